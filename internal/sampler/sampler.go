// Package sampler snapshots CPU, GPU, memory, thermal and power signals into
// a PerformanceSample. It performs no decision logic: unavailable or slow
// primitives are replaced by neutral defaults and never surface as errors.
package sampler

import (
	"context"
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
)

type Sampler struct {
	sources Sources
	timeout time.Duration
	now     func() time.Time
	logger  logger.Logger
}

type Option func(*Sampler)

// WithTimeout bounds every individual source call.
func WithTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(sources Sources, opts ...Option) *Sampler {
	s := &Sampler{
		sources: sources,
		timeout: defaultSourceTimeout,
		now:     time.Now,
		logger:  logger.Component("sampler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sample collects one PerformanceSample. It returns within roughly the
// configured timeout per source even if a primitive hangs.
func (s *Sampler) Sample(ctx context.Context) PerformanceSample {
	sample := PerformanceSample{
		Timestamp:    s.now(),
		ThermalState: ThermalNominal,
		Power:        DefaultPowerState(),
	}

	if src := s.sources.CPU; src != nil {
		if v, err := call(ctx, s.timeout, src.CPUUsage); s.ok("cpu", err) {
			sample.CPUUsage = clampFinite(v, 0, 100)
		}
	}

	if src := s.sources.GPU; src != nil {
		if v, err := call(ctx, s.timeout, src.GPUUsage); s.ok("gpu", err) {
			sample.GPUUsage = clampFinite(v, 0, 100)
		}
	}

	if src := s.sources.Memory; src != nil {
		if v, err := call(ctx, s.timeout, src.MemoryPressure); s.ok("memory", err) {
			sample.MemoryPressure = clampFinite(v, 0, 1)
		}
	}

	if src := s.sources.Thermal; src != nil {
		if v, err := call(ctx, s.timeout, src.ThermalState); s.ok("thermal", err) {
			sample.ThermalState = clampThermal(v)
		}
	}

	if src := s.sources.Power; src != nil {
		if v, err := call(ctx, s.timeout, src.PowerState); s.ok("power", err) {
			sample.Power = sanitizePower(v)
		}
	}

	sample.Power.ThermalState = sample.ThermalState

	return sample
}

func (s *Sampler) ok(source string, err error) bool {
	if err == nil {
		return true
	}

	s.logger.Debug().Str("source", source).Err(err).Msg("Signal unavailable, using default")

	return false
}

// call runs fn with a deadline and converts hangs and panics into errors.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{zero, errors.New().WithData(ErrSourcePanic, fmt.Sprint(r))}
			}
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, errors.New().Wrap(ErrSourceTimeout, ctx.Err())
	}
}

func clampFinite(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}

	return math.Max(lo, math.Min(hi, v))
}

func clampThermal(s ThermalState) ThermalState {
	if s < ThermalNominal {
		return ThermalNominal
	}
	if s > ThermalCritical {
		return ThermalCritical
	}

	return s
}

func sanitizePower(p PowerState) PowerState {
	p.BatteryLevel = clampFinite(p.BatteryLevel, 0, 1)
	if math.IsNaN(p.PowerDrawWatts) || p.PowerDrawWatts < 0 || math.IsInf(p.PowerDrawWatts, 0) {
		p.PowerDrawWatts = 0
	}
	if p.TimeRemaining < 0 {
		p.TimeRemaining = -1
	}

	return p
}
