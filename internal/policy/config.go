package policy

import (
	"math"
	"slices"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/sampler"
)

const (
	DefaultCooldown  = 2 * time.Second
	DefaultMinDelta  = 5
	DefaultStartRate = 60
	DefaultMaxRate   = 120
	DefaultLookAhead = 0.1
)

// DefaultSupportedRates are the discrete refresh rates a display offers.
var DefaultSupportedRates = []int{30, 48, 60, 72, 90, 120}

// Thresholds configure the trigger and candidate rules. Usage values are
// percentages, pressure and levels are fractions.
type Thresholds struct {
	CPUHigh         float64              `mapstructure:"cpu_high"`
	GPUHigh         float64              `mapstructure:"gpu_high"`
	MemoryHigh      float64              `mapstructure:"memory_high"`
	DropRateHigh    float64              `mapstructure:"drop_rate_high"`
	CPULow          float64              `mapstructure:"cpu_low"`
	GPULow          float64              `mapstructure:"gpu_low"`
	LowBattery      float64              `mapstructure:"low_battery"`
	ThermalThrottle sampler.ThermalState `mapstructure:"-"`
	HighMotion      float64              `mapstructure:"high_motion"`
	MotionCPU       float64              `mapstructure:"motion_cpu"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUHigh:         80,
		GPUHigh:         85,
		MemoryHigh:      0.85,
		DropRateHigh:    0.05,
		CPULow:          50,
		GPULow:          50,
		LowBattery:      0.20,
		ThermalThrottle: sampler.ThermalSerious,
		HighMotion:      100,
		MotionCPU:       60,
	}
}

// Config holds the engine's tunables.
type Config struct {
	Thresholds     Thresholds
	Cooldown       time.Duration
	MinDelta       int
	LookAhead      float64
	SupportedRates []int
}

func DefaultConfig() Config {
	return Config{
		Thresholds:     DefaultThresholds(),
		Cooldown:       DefaultCooldown,
		MinDelta:       DefaultMinDelta,
		LookAhead:      DefaultLookAhead,
		SupportedRates: slices.Clone(DefaultSupportedRates),
	}
}

// Validate checks the configuration and returns a copy with the supported
// rates sorted and deduplicated.
func (c Config) Validate() (Config, error) {
	errFactory := errors.New()

	if len(c.SupportedRates) == 0 {
		return c, errFactory.WithMessage(errors.ErrInvalidRates, "no supported frame rates")
	}
	rates := slices.Clone(c.SupportedRates)
	slices.Sort(rates)
	rates = slices.Compact(rates)
	if rates[0] <= 0 {
		return c, errFactory.WithData(errors.ErrInvalidRates, rates)
	}
	c.SupportedRates = rates

	if c.Cooldown < 0 {
		return c, errFactory.WithData(errors.ErrInvalidInterval, c.Cooldown.String())
	}
	if c.MinDelta < 0 {
		return c, errFactory.WithData(ErrInvalidThreshold, "min_delta")
	}
	if c.LookAhead < 0 || math.IsNaN(c.LookAhead) {
		return c, errFactory.WithData(ErrInvalidThreshold, "look_ahead")
	}

	t := c.Thresholds
	for name, v := range map[string]float64{
		"cpu_high":       t.CPUHigh,
		"gpu_high":       t.GPUHigh,
		"cpu_low":        t.CPULow,
		"gpu_low":        t.GPULow,
		"motion_cpu":     t.MotionCPU,
		"memory_high":    t.MemoryHigh * 100,
		"drop_rate_high": t.DropRateHigh * 100,
		"low_battery":    t.LowBattery * 100,
	} {
		if v < 0 || v > 100 || math.IsNaN(v) {
			return c, errFactory.WithData(ErrInvalidThreshold, name)
		}
	}
	if t.HighMotion < 0 || math.IsNaN(t.HighMotion) {
		return c, errFactory.WithData(ErrInvalidThreshold, "high_motion")
	}

	return c, nil
}
