// Package policy decides the target frame rate from the latest metrics.
package policy

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/sampler"
)

// Above HighMotion times this factor, motion triggers even when unstable.
const unstableMotionFactor = 1.25

// MotionSource is the view of the motion predictor the engine needs.
type MotionSource interface {
	PredictMotion(timeAhead float64) float64
	IsMotionStable() bool
}

// Input is everything one evaluation looks at.
type Input struct {
	Metrics           FrameRateMetrics
	Motion            MotionSource
	Mode              Mode
	AdaptationEnabled bool
	OverrideActive    bool
	Now               time.Time
}

// Outcome says how an evaluation ended.
type Outcome int

const (
	OutcomeGated Outcome = iota
	OutcomeNoTrigger
	OutcomeWithinHysteresis
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGated:
		return "gated"
	case OutcomeNoTrigger:
		return "no_trigger"
	case OutcomeWithinHysteresis:
		return "within_hysteresis"
	case OutcomeCommitted:
		return "committed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the result of Evaluate. Metrics is the sanitized snapshot
// the decision was made from, with Reason and TargetRate filled in.
type Decision struct {
	Outcome   Outcome
	FromRate  int
	ToRate    int
	Candidate float64
	Reason    string
	Metrics   FrameRateMetrics
}

func (d Decision) Changed() bool {
	return d.Outcome == OutcomeCommitted
}

// Engine evaluates inputs one at a time and remembers the cooldown and the
// last seen content complexity.
type Engine struct {
	cfg Config

	mu             sync.Mutex
	lastCommit     time.Time
	lastComplexity Complexity
}

func NewEngine(cfg Config) (*Engine, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, lastComplexity: ComplexityMedium}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Reset forgets the cooldown and complexity memory.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastCommit = time.Time{}
	e.lastComplexity = ComplexityMedium
}

// SetBaseline sets the complexity the next evaluation compares against, so
// a configured starting complexity is not reported as a change.
func (e *Engine) SetBaseline(c Complexity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastComplexity = clampComplexity(c)
}

// Evaluate runs one pass of gate, triggers, candidate, quantization and
// hysteresis. It never fails; out-of-range inputs are clamped.
func (e *Engine) Evaluate(in Input) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := sanitize(in.Metrics)
	d := Decision{FromRate: m.TargetRate, ToRate: m.TargetRate, Metrics: m}

	if gated := e.gate(in); gated != "" {
		d.Outcome = OutcomeGated
		d.Metrics.Reason = gated
		return d
	}

	t := e.cfg.Thresholds
	maxRate := e.maxRate()

	var motionSpeed float64
	var motionStable bool
	if in.Motion != nil {
		motionSpeed = finiteOrZero(in.Motion.PredictMotion(e.cfg.LookAhead))
		motionStable = in.Motion.IsMotionStable()
	}
	highMotion := isHighMotion(t.HighMotion, motionSpeed, motionStable) && m.TargetRate < maxRate

	var reasons []string
	if m.CPUUsage > t.CPUHigh {
		reasons = append(reasons, fmt.Sprintf("High CPU usage (%.0f%%)", m.CPUUsage))
	}
	if m.GPUUsage > t.GPUHigh {
		reasons = append(reasons, fmt.Sprintf("High GPU usage (%.0f%%)", m.GPUUsage))
	}
	if m.MemoryPressure > t.MemoryHigh {
		reasons = append(reasons, fmt.Sprintf("High memory pressure (%.0f%%)", m.MemoryPressure*100))
	}
	if m.FrameDropRate > t.DropRateHigh {
		reasons = append(reasons, fmt.Sprintf("Frame drops (%.0f%%)", m.FrameDropRate*100))
	}
	if !m.PluggedIn && m.BatteryLevel < t.LowBattery {
		reasons = append(reasons, fmt.Sprintf("Low battery (%.0f%%)", m.BatteryLevel*100))
	}
	if m.ThermalState >= t.ThermalThrottle {
		reasons = append(reasons, fmt.Sprintf("Thermal throttling (%s)", m.ThermalState))
	}
	if m.ContentComplexity != e.lastComplexity {
		reasons = append(reasons, fmt.Sprintf("Content complexity changed (%s to %s)", e.lastComplexity, m.ContentComplexity))
	}
	if highMotion {
		reasons = append(reasons, fmt.Sprintf("High motion (%.0f px/s)", math.Abs(motionSpeed)))
	}
	e.lastComplexity = m.ContentComplexity

	if len(reasons) == 0 {
		d.Outcome = OutcomeNoTrigger
		return d
	}

	d.Candidate = CandidateRate(t, maxRate, m, highMotion)
	q := Quantize(d.Candidate, e.cfg.SupportedRates)
	reason := strings.Join(reasons, ", ")

	if abs(q-m.TargetRate) <= e.cfg.MinDelta {
		d.Outcome = OutcomeWithinHysteresis
		d.Metrics.Reason = reason
		return d
	}

	e.lastCommit = in.Now
	d.Outcome = OutcomeCommitted
	d.ToRate = q
	d.Reason = reason
	d.Metrics.TargetRate = q
	d.Metrics.Reason = reason

	return d
}

func (e *Engine) gate(in Input) string {
	switch {
	case in.Mode != ModeAutomatic:
		return "Manual mode"
	case !in.AdaptationEnabled:
		return "Adaptation disabled"
	case in.OverrideActive:
		return "Profile override active"
	case !e.lastCommit.IsZero() && in.Now.Sub(e.lastCommit) < e.cfg.Cooldown:
		return "Cooling down"
	default:
		return ""
	}
}

// isHighMotion applies the high-motion threshold. Near the threshold the
// motion must also be stable so that small jittery movements do not
// trigger; well above it any motion counts.
func isHighMotion(threshold, speed float64, stable bool) bool {
	speed = math.Abs(speed)
	if speed <= threshold {
		return false
	}
	return stable || speed > threshold*unstableMotionFactor
}

func (e *Engine) maxRate() int {
	return e.cfg.SupportedRates[len(e.cfg.SupportedRates)-1]
}

// CandidateRate computes the unquantized rate for m. Each step can only
// lower the running ceiling, and boosts are clamped to it, so a tighter
// battery or thermal limit never yields a higher rate.
func CandidateRate(t Thresholds, maxRate int, m FrameRateMetrics, highMotion bool) float64 {
	m = sanitize(m)

	ceiling := math.Min(DefaultMaxRate, float64(maxRate))
	rate := math.Min(DefaultStartRate, ceiling)
	lower := func(limit float64) {
		ceiling = math.Min(ceiling, limit)
		rate = math.Min(rate, ceiling)
	}

	if !m.PluggedIn {
		switch {
		case m.BatteryLevel < t.LowBattery/2:
			lower(30)
		case m.BatteryLevel < t.LowBattery:
			lower(48)
		case m.BatteryLevel < 0.5:
			lower(60)
		default:
			lower(90)
		}
	}

	switch m.ThermalState {
	case sampler.ThermalFair:
		lower(90)
	case sampler.ThermalSerious:
		lower(60)
	case sampler.ThermalCritical:
		lower(30)
	}

	highLoad := m.CPUUsage > t.CPUHigh || m.GPUUsage > t.GPUHigh ||
		m.MemoryPressure > t.MemoryHigh || m.FrameDropRate > t.DropRateHigh
	lowLoad := m.CPUUsage < t.CPULow && m.GPUUsage < t.GPULow && m.ContentComplexity >= ComplexityLow
	switch {
	case highLoad:
		rate *= 0.75
	case lowLoad:
		rate = math.Min(rate*1.5, ceiling)
	}

	switch {
	case m.ContentComplexity >= ComplexityExtreme:
		lower(60)
	case m.ContentComplexity >= ComplexityHigh:
		lower(90)
	}

	if highMotion && m.CPUUsage < t.MotionCPU {
		rate = math.Min(rate*1.2, ceiling)
	}

	return rate
}

// Quantize snaps rate to the nearest supported rate, preferring the lower
// one on ties. NaN and negative rates map to the lowest rate. supported
// must be sorted ascending; an empty slice falls back to the defaults.
func Quantize(rate float64, supported []int) int {
	if len(supported) == 0 {
		supported = DefaultSupportedRates
	}
	lowest, highest := supported[0], supported[len(supported)-1]

	switch {
	case math.IsNaN(rate) || rate < 0:
		return lowest
	case math.IsInf(rate, 1):
		return highest
	}

	best := lowest
	bestDist := math.Abs(rate - float64(lowest))
	for _, r := range supported[1:] {
		if dist := math.Abs(rate - float64(r)); dist < bestDist {
			best, bestDist = r, dist
		}
	}

	return best
}

func sanitize(m FrameRateMetrics) FrameRateMetrics {
	m.CurrentRate = clamp(m.CurrentRate, 0, math.MaxFloat64, 0)
	m.CPUUsage = clamp(m.CPUUsage, 0, 100, 0)
	m.GPUUsage = clamp(m.GPUUsage, 0, 100, 0)
	m.MemoryPressure = clamp(m.MemoryPressure, 0, 1, 0)
	m.FrameDropRate = clamp(m.FrameDropRate, 0, 1, 0)
	m.BatteryLevel = clamp(m.BatteryLevel, 0, 1, 1)
	if m.ThermalState < sampler.ThermalNominal {
		m.ThermalState = sampler.ThermalNominal
	}
	if m.ThermalState > sampler.ThermalCritical {
		m.ThermalState = sampler.ThermalCritical
	}
	m.ContentComplexity = clampComplexity(m.ContentComplexity)
	if m.TargetRate < 0 {
		m.TargetRate = 0
	}

	return m
}

func clamp(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}

	return math.Max(lo, math.Min(hi, v))
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}
