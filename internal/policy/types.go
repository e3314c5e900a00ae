package policy

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/sampler"
)

// Complexity grades how demanding the visualized content is.
type Complexity int

const (
	ComplexityMinimal Complexity = iota
	ComplexityLow
	ComplexityMedium
	ComplexityHigh
	ComplexityExtreme
)

var complexityNames = [...]string{"minimal", "low", "medium", "high", "extreme"}

func (c Complexity) String() string {
	if c < ComplexityMinimal || c > ComplexityExtreme {
		return fmt.Sprintf("complexity(%d)", int(c))
	}
	return complexityNames[c]
}

func (c Complexity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Complexity) UnmarshalText(text []byte) error {
	v, err := ParseComplexity(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func ParseComplexity(name string) (Complexity, error) {
	for i, n := range complexityNames {
		if strings.EqualFold(name, n) {
			return Complexity(i), nil
		}
	}

	return ComplexityMedium, errors.New().WithData(ErrInvalidComplexity, name)
}

func clampComplexity(c Complexity) Complexity {
	switch {
	case c < ComplexityMinimal:
		return ComplexityMinimal
	case c > ComplexityExtreme:
		return ComplexityExtreme
	default:
		return c
	}
}

// Mode selects whether the engine may adapt on its own.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
)

func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeManual:
		return ModeManual, nil
	case ModeAutomatic:
		return ModeAutomatic, nil
	default:
		return ModeAutomatic, errors.New().WithData(errors.ErrInvalidMode, name)
	}
}

// FrameRateMetrics is the snapshot each evaluation works from. CurrentRate
// is the measured rate; TargetRate is the active profile's rate.
type FrameRateMetrics struct {
	CurrentRate       float64              `json:"current_rate"`
	TargetRate        int                  `json:"target_rate"`
	CPUUsage          float64              `json:"cpu_usage"`
	GPUUsage          float64              `json:"gpu_usage"`
	MemoryPressure    float64              `json:"memory_pressure"`
	ThermalState      sampler.ThermalState `json:"thermal_state"`
	BatteryLevel      float64              `json:"battery_level"`
	PluggedIn         bool                 `json:"plugged_in"`
	ContentComplexity Complexity           `json:"content_complexity"`
	FrameDropRate     float64              `json:"frame_drop_rate"`
	Reason            string               `json:"reason,omitempty"`
}

// MetricsFromSample fills the system fields of m from s.
func MetricsFromSample(m FrameRateMetrics, s sampler.PerformanceSample) FrameRateMetrics {
	m.CPUUsage = s.CPUUsage
	m.GPUUsage = s.GPUUsage
	m.MemoryPressure = s.MemoryPressure
	m.ThermalState = s.ThermalState
	m.BatteryLevel = s.Power.BatteryLevel
	m.PluggedIn = s.Power.PluggedIn
	return m
}
