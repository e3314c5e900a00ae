package sampler

import (
	"fmt"
	"strings"
	"time"
)

// ThermalState is the platform-reported heat severity, ordered from
// nominal to critical.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (s ThermalState) String() string {
	switch s {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return fmt.Sprintf("thermal(%d)", int(s))
	}
}

func (s ThermalState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ThermalState) UnmarshalText(text []byte) error {
	v, err := ParseThermalState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseThermalState parses a state name as used in configuration files.
func ParseThermalState(name string) (ThermalState, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nominal":
		return ThermalNominal, nil
	case "fair":
		return ThermalFair, nil
	case "serious":
		return ThermalSerious, nil
	case "critical":
		return ThermalCritical, nil
	default:
		return ThermalNominal, fmt.Errorf("unknown thermal state %q", name)
	}
}

// PowerState describes the battery and power source.
type PowerState struct {
	BatteryLevel   float64       `json:"battery_level"` // 0..1
	PluggedIn      bool          `json:"plugged_in"`
	TimeRemaining  time.Duration `json:"time_remaining"` // -1 when unknown or unlimited
	ThermalState   ThermalState  `json:"thermal_state"`
	PowerDrawWatts float64       `json:"power_draw_watts"`
}

// DefaultPowerState is reported when no power source is available: a
// mains-powered machine without a battery.
func DefaultPowerState() PowerState {
	return PowerState{
		BatteryLevel:  1,
		PluggedIn:     true,
		TimeRemaining: -1,
	}
}

// PerformanceSample is one periodic snapshot of system signals.
type PerformanceSample struct {
	Timestamp      time.Time    `json:"timestamp"`
	CPUUsage       float64      `json:"cpu_usage"` // percent, 0..100
	GPUUsage       float64      `json:"gpu_usage"` // percent, 0..100
	MemoryPressure float64      `json:"memory_pressure"`
	ThermalState   ThermalState `json:"thermal_state"`
	Power          PowerState   `json:"power"`
}

// Changed reports whether next differs from prev in power source or
// thermal state, the two transitions that warrant an eager evaluation.
func Changed(prev, next PerformanceSample) bool {
	return prev.Power.PluggedIn != next.Power.PluggedIn ||
		prev.ThermalState != next.ThermalState
}
