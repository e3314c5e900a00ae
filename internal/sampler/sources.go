package sampler

import (
	"context"
	"time"
)

// CPUSource reports overall CPU usage in percent.
type CPUSource interface {
	CPUUsage(ctx context.Context) (float64, error)
}

// GPUSource reports GPU utilization in percent.
type GPUSource interface {
	GPUUsage(ctx context.Context) (float64, error)
}

// MemorySource reports memory pressure as a ratio in [0,1].
type MemorySource interface {
	MemoryPressure(ctx context.Context) (float64, error)
}

// ThermalSource reports the current thermal state.
type ThermalSource interface {
	ThermalState(ctx context.Context) (ThermalState, error)
}

// PowerSource reports battery and power-source state.
type PowerSource interface {
	PowerState(ctx context.Context) (PowerState, error)
}

// TemperatureReader reports a temperature in degrees Celsius.
type TemperatureReader interface {
	Temperature(ctx context.Context) (float64, error)
}

// Sources groups the platform primitives. Nil members are treated as
// unavailable.
type Sources struct {
	CPU     CPUSource
	GPU     GPUSource
	Memory  MemorySource
	Thermal ThermalSource
	Power   PowerSource
}

// TemperatureLimits maps temperatures to thermal states. A reading at or
// above a limit reaches that state.
type TemperatureLimits struct {
	Fair     float64
	Serious  float64
	Critical float64
}

func DefaultTemperatureLimits() TemperatureLimits {
	return TemperatureLimits{Fair: 70, Serious: 80, Critical: 90}
}

func (l TemperatureLimits) State(celsius float64) ThermalState {
	switch {
	case celsius >= l.Critical:
		return ThermalCritical
	case celsius >= l.Serious:
		return ThermalSerious
	case celsius >= l.Fair:
		return ThermalFair
	default:
		return ThermalNominal
	}
}

type temperatureThermal struct {
	readers []TemperatureReader
	limits  TemperatureLimits
}

// ThermalFromTemperatures derives a thermal state from the hottest of the
// given readers. Readers that fail are skipped; if all fail the error of
// the last one is returned.
func ThermalFromTemperatures(limits TemperatureLimits, readers ...TemperatureReader) ThermalSource {
	return &temperatureThermal{readers: readers, limits: limits}
}

func (t *temperatureThermal) ThermalState(ctx context.Context) (ThermalState, error) {
	var (
		hottest float64
		found   bool
		lastErr error
	)
	for _, r := range t.readers {
		if r == nil {
			continue
		}
		c, err := r.Temperature(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || c > hottest {
			hottest = c
			found = true
		}
	}

	if !found {
		if lastErr == nil {
			lastErr = errNoReaders
		}
		return ThermalNominal, lastErr
	}

	return t.limits.State(hottest), nil
}

// DrawReader reports a power draw in watts.
type DrawReader interface {
	PowerDraw(ctx context.Context) (float64, error)
}

// WithDrawFallback fills PowerDrawWatts from draw whenever power reports
// none, as on machines without battery telemetry. A nil power starts from
// DefaultPowerState.
func WithDrawFallback(power PowerSource, draw DrawReader) PowerSource {
	return PowerFunc(func(ctx context.Context) (PowerState, error) {
		state := DefaultPowerState()
		if power != nil {
			s, err := power.PowerState(ctx)
			if err != nil {
				return s, err
			}
			state = s
		}

		if state.PowerDrawWatts <= 0 {
			if w, err := draw.PowerDraw(ctx); err == nil && w > 0 {
				state.PowerDrawWatts = w
			}
		}

		return state, nil
	})
}

// Func adapters let callers plug closures in as sources.
type (
	CPUFunc     func(ctx context.Context) (float64, error)
	GPUFunc     func(ctx context.Context) (float64, error)
	MemoryFunc  func(ctx context.Context) (float64, error)
	ThermalFunc func(ctx context.Context) (ThermalState, error)
	PowerFunc   func(ctx context.Context) (PowerState, error)
)

func (f CPUFunc) CPUUsage(ctx context.Context) (float64, error) { return f(ctx) }

func (f GPUFunc) GPUUsage(ctx context.Context) (float64, error) { return f(ctx) }

func (f MemoryFunc) MemoryPressure(ctx context.Context) (float64, error) { return f(ctx) }

func (f ThermalFunc) ThermalState(ctx context.Context) (ThermalState, error) { return f(ctx) }

func (f PowerFunc) PowerState(ctx context.Context) (PowerState, error) { return f(ctx) }

const defaultSourceTimeout = 250 * time.Millisecond
