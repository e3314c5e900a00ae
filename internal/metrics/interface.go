package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/policy"
)

// MetricsCollector defines the core domain interface
type MetricsCollector interface {
	Record(ctx context.Context, snapshot *MetricsSnapshot) error
	RecordAdaptation(ctx context.Context, record *AdaptationRecord) error
	Adaptations(ctx context.Context, limit int) ([]AdaptationRecord, error)
	Close() error
}

// MetricsRepository defines the interface for metrics data storage
type MetricsRepository interface {
	Record(snapshot *MetricsSnapshot) error
	RecordAdaptation(record *AdaptationRecord) error
	Adaptations(ctx context.Context, limit int) ([]AdaptationRecord, error)
	Close() error
}

// MetricsSnapshot is one evaluation pass.
type MetricsSnapshot struct {
	Timestamp time.Time
	Rate      RateMetrics
	Load      LoadMetrics
	Power     PowerMetrics
	State     StateMetrics
}

// Domain value objects
type RateMetrics struct {
	Current  float64
	Target   int
	DropRate float64
}

type LoadMetrics struct {
	CPU    float64
	GPU    float64
	Memory float64
}

type PowerMetrics struct {
	BatteryLevel float64
	PluggedIn    bool
	Thermal      int
}

type StateMetrics struct {
	Complexity int
	Automatic  bool
}

// AdaptationRecord is a persisted adaptation event.
type AdaptationRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	FromRate  int       `json:"from_rate"`
	ToRate    int       `json:"to_rate"`
	Reason    string    `json:"reason"`
}

// SnapshotFrom maps controller metrics onto a journal row.
func SnapshotFrom(m policy.FrameRateMetrics, automatic bool, at time.Time) *MetricsSnapshot {
	return &MetricsSnapshot{
		Timestamp: at,
		Rate:      RateMetrics{Current: m.CurrentRate, Target: m.TargetRate, DropRate: m.FrameDropRate},
		Load:      LoadMetrics{CPU: m.CPUUsage, GPU: m.GPUUsage, Memory: m.MemoryPressure},
		Power:     PowerMetrics{BatteryLevel: m.BatteryLevel, PluggedIn: m.PluggedIn, Thermal: int(m.ThermalState)},
		State:     StateMetrics{Complexity: int(m.ContentComplexity), Automatic: automatic},
	}
}

// AdaptationFrom maps an adaptation event onto a journal row.
func AdaptationFrom(e adaptation.Event) *AdaptationRecord {
	return &AdaptationRecord{
		ID:        e.ID.String(),
		Timestamp: e.Timestamp,
		FromRate:  e.FromRate,
		ToRate:    e.ToRate,
		Reason:    e.Reason,
	}
}
