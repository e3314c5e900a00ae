package telemetry

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/policy"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	RecordAdaptation(event adaptation.Event)
	Handler() http.Handler
	Close() error
}

// Snapshot is one evaluation pass as seen by telemetry.
type Snapshot struct {
	Timestamp   time.Time
	Metrics     policy.FrameRateMetrics
	StutterRate float64
	Automatic   bool
}
