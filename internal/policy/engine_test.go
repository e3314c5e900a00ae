package policy

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/motion"
	"codeberg.org/mutker/framectl/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return e
}

func automatic(m FrameRateMetrics, now time.Time) Input {
	return Input{Metrics: m, Mode: ModeAutomatic, AdaptationEnabled: true, Now: now}
}

func pluggedIdle(rate int) FrameRateMetrics {
	return FrameRateMetrics{
		CurrentRate:       float64(rate),
		TargetRate:        rate,
		CPUUsage:          40,
		GPUUsage:          60,
		BatteryLevel:      1,
		PluggedIn:         true,
		ContentComplexity: ComplexityMedium,
	}
}

type staticMotion struct {
	speed  float64
	stable bool
}

func (s staticMotion) PredictMotion(float64) float64 { return s.speed }
func (s staticMotion) IsMotionStable() bool { return s.stable }

func TestThermalCriticalOnLowBattery(t *testing.T) {
	e := newEngine(t)

	m := FrameRateMetrics{
		CurrentRate:       118,
		TargetRate:        120,
		CPUUsage:          30,
		GPUUsage:          30,
		ThermalState:      sampler.ThermalCritical,
		BatteryLevel:      0.15,
		PluggedIn:         false,
		ContentComplexity: ComplexityMedium,
	}

	d := e.Evaluate(automatic(m, t0))
	require.True(t, d.Changed())
	assert.Equal(t, 120, d.FromRate)
	assert.Equal(t, 30, d.ToRate)
	assert.Contains(t, d.Reason, "Thermal")
	assert.Contains(t, d.Reason, "Low battery (15%)")
	assert.Equal(t, 30, d.Metrics.TargetRate)
	assert.Equal(t, d.Reason, d.Metrics.Reason)
}

func TestPluggedInMinimalContentDoesNotAdapt(t *testing.T) {
	e := newEngine(t)

	m := FrameRateMetrics{
		CurrentRate:       60,
		TargetRate:        60,
		CPUUsage:          40,
		GPUUsage:          50,
		BatteryLevel:      1,
		PluggedIn:         true,
		ContentComplexity: ComplexityMinimal,
	}

	// The first pass sees the complexity change and settles at 60.
	first := e.Evaluate(automatic(m, t0))
	assert.Equal(t, OutcomeWithinHysteresis, first.Outcome)

	d := e.Evaluate(automatic(m, t0.Add(5*time.Second)))
	assert.False(t, d.Changed())
	assert.Equal(t, OutcomeNoTrigger, d.Outcome)
	assert.Equal(t, 60, d.ToRate)
}

func TestStableHighMotionBoostsOnBattery(t *testing.T) {
	e := newEngine(t)

	p := motion.NewPredictor()
	for i := 0; i < 5; i++ {
		p.AddVelocity(150)
	}
	require.True(t, p.IsMotionStable())

	m := FrameRateMetrics{
		CurrentRate:       60,
		TargetRate:        60,
		CPUUsage:          45,
		GPUUsage:          40,
		BatteryLevel:      0.9,
		PluggedIn:         false,
		ContentComplexity: ComplexityMedium,
	}
	in := automatic(m, t0)
	in.Motion = p

	d := e.Evaluate(in)
	require.True(t, d.Changed())
	assert.GreaterOrEqual(t, d.ToRate, 60)
	assert.Equal(t, 90, d.ToRate)
	assert.Contains(t, d.Reason, "High motion (150 px/s)")
}

func TestUnstableMotionNearThresholdDoesNotTrigger(t *testing.T) {
	e := newEngine(t)

	m := pluggedIdle(60)
	in := automatic(m, t0)
	in.Motion = staticMotion{speed: 110, stable: false}

	d := e.Evaluate(in)
	assert.Equal(t, OutcomeNoTrigger, d.Outcome)

	in.Motion = staticMotion{speed: 110, stable: true}
	d = e.Evaluate(in)
	assert.Contains(t, d.Metrics.Reason, "High motion (110 px/s)")
}

func TestJitteredHighMotionBoostsOnBattery(t *testing.T) {
	e := newEngine(t)

	p := motion.NewPredictor()
	for _, v := range []float64{140, 152, 147, 155, 149, 151} {
		p.AddVelocity(v)
	}
	require.False(t, p.IsMotionStable())

	m := FrameRateMetrics{
		CurrentRate:       60,
		TargetRate:        60,
		CPUUsage:          45,
		GPUUsage:          60,
		BatteryLevel:      0.9,
		PluggedIn:         false,
		ContentComplexity: ComplexityMedium,
	}
	in := automatic(m, t0)
	in.Motion = p

	d := e.Evaluate(in)
	require.True(t, d.Changed(), d.Outcome.String())
	assert.Equal(t, 72, d.ToRate)
	assert.Contains(t, d.Reason, "High motion")
}

func TestIsHighMotion(t *testing.T) {
	tests := []struct {
		speed  float64
		stable bool
		want   bool
	}{
		{speed: 90, stable: true, want: false},
		{speed: 100, stable: true, want: false},
		{speed: 110, stable: true, want: true},
		{speed: 110, stable: false, want: false},
		{speed: 125, stable: false, want: false},
		{speed: 126, stable: false, want: true},
		{speed: -300, stable: false, want: true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isHighMotion(100, tt.speed, tt.stable), "speed=%v stable=%v", tt.speed, tt.stable)
	}
}

func TestBaselineSuppressesInitialComplexityChange(t *testing.T) {
	e := newEngine(t)
	e.SetBaseline(ComplexityMinimal)

	m := pluggedIdle(60)
	m.ContentComplexity = ComplexityMinimal

	d := e.Evaluate(automatic(m, t0))
	assert.Equal(t, OutcomeNoTrigger, d.Outcome)
	assert.Empty(t, d.Metrics.Reason)

	e.Reset()
	d = e.Evaluate(automatic(m, t0))
	assert.Contains(t, d.Metrics.Reason, "Content complexity changed (medium to minimal)")
}

func TestMotionIgnoredAtMaxRate(t *testing.T) {
	e := newEngine(t)

	in := automatic(pluggedIdle(120), t0)
	in.Motion = staticMotion{speed: 300, stable: true}

	d := e.Evaluate(in)
	assert.Equal(t, OutcomeNoTrigger, d.Outcome)
}

func TestHysteresis(t *testing.T) {
	e := newEngine(t)

	// High CPU: 60 * 0.75 = 45 quantizes to 48, the current rate.
	m := pluggedIdle(48)
	m.CPUUsage = 90

	d := e.Evaluate(automatic(m, t0))
	assert.Equal(t, OutcomeWithinHysteresis, d.Outcome)
	assert.Equal(t, 48, d.ToRate)
	assert.Contains(t, d.Metrics.Reason, "High CPU usage (90%)")
}

func TestHighLoadCommitsLowerRate(t *testing.T) {
	e := newEngine(t)

	m := pluggedIdle(120)
	m.CPUUsage = 85
	m.BatteryLevel = 0.15

	d := e.Evaluate(automatic(m, t0))
	require.True(t, d.Changed())
	assert.Equal(t, 48, d.ToRate)
	assert.Equal(t, "High CPU usage (85%)", d.Reason)
}

func TestReasonJoinsTriggers(t *testing.T) {
	e := newEngine(t)

	m := FrameRateMetrics{
		TargetRate:        120,
		CPUUsage:          85,
		BatteryLevel:      0.15,
		ContentComplexity: ComplexityMedium,
	}

	d := e.Evaluate(automatic(m, t0))
	require.True(t, d.Changed())
	assert.Equal(t, "High CPU usage (85%), Low battery (15%)", d.Reason)
	assert.Equal(t, 30, d.ToRate)
}

func TestGate(t *testing.T) {
	m := pluggedIdle(120)
	m.CPUUsage = 95

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"manual mode", func(in *Input) { in.Mode = ModeManual }},
		{"adaptation disabled", func(in *Input) { in.AdaptationEnabled = false }},
		{"override active", func(in *Input) { in.OverrideActive = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			in := automatic(m, t0)
			tt.mutate(&in)

			d := e.Evaluate(in)
			assert.Equal(t, OutcomeGated, d.Outcome)
			assert.Equal(t, 120, d.ToRate)
		})
	}
}

func TestCooldown(t *testing.T) {
	e := newEngine(t)

	m := pluggedIdle(120)
	m.CPUUsage = 95
	d := e.Evaluate(automatic(m, t0))
	require.True(t, d.Changed())
	assert.Equal(t, 48, d.ToRate)

	// Thermal goes critical right after the commit.
	m.TargetRate = 48
	m.ThermalState = sampler.ThermalCritical
	d = e.Evaluate(automatic(m, t0.Add(time.Second)))
	assert.Equal(t, OutcomeGated, d.Outcome)

	d = e.Evaluate(automatic(m, t0.Add(2*time.Second)))
	require.True(t, d.Changed())
	assert.Equal(t, 30, d.ToRate)
}

func TestComplexityMemoryKeptWhileGated(t *testing.T) {
	e := newEngine(t)

	m := pluggedIdle(60)
	m.ContentComplexity = ComplexityExtreme
	m.GPUUsage = 60

	in := automatic(m, t0)
	in.Mode = ModeManual
	assert.Equal(t, OutcomeGated, e.Evaluate(in).Outcome)

	// Extreme content lowers the ceiling to 60, equal to the current rate.
	d := e.Evaluate(automatic(m, t0))
	assert.Equal(t, OutcomeWithinHysteresis, d.Outcome)
	assert.Contains(t, d.Metrics.Reason, "Content complexity changed (medium to extreme)")
}

func TestResetClearsCooldown(t *testing.T) {
	e := newEngine(t)

	m := pluggedIdle(120)
	m.CPUUsage = 95
	require.True(t, e.Evaluate(automatic(m, t0)).Changed())

	e.Reset()

	m.TargetRate = 48
	m.ThermalState = sampler.ThermalCritical
	d := e.Evaluate(automatic(m, t0.Add(time.Millisecond)))
	assert.True(t, d.Changed())
}

func TestInvalidInputsAreClamped(t *testing.T) {
	e := newEngine(t)

	m := FrameRateMetrics{
		TargetRate:        60,
		CPUUsage:          math.NaN(),
		GPUUsage:          -20,
		MemoryPressure:    4,
		BatteryLevel:      math.NaN(),
		PluggedIn:         true,
		ThermalState:      sampler.ThermalState(9),
		ContentComplexity: Complexity(-3),
	}

	d := e.Evaluate(automatic(m, t0))
	assert.Equal(t, 1.0, d.Metrics.MemoryPressure)
	assert.Equal(t, 1.0, d.Metrics.BatteryLevel)
	assert.Zero(t, d.Metrics.CPUUsage)
	assert.Zero(t, d.Metrics.GPUUsage)
	assert.Equal(t, sampler.ThermalCritical, d.Metrics.ThermalState)
	assert.Equal(t, ComplexityMinimal, d.Metrics.ContentComplexity)
	require.True(t, d.Changed())
	assert.Equal(t, 30, d.ToRate)
}

func TestBatteryCeilingIsMonotonic(t *testing.T) {
	th := DefaultThresholds()

	base := FrameRateMetrics{
		TargetRate:        90,
		CPUUsage:          20,
		GPUUsage:          20,
		PluggedIn:         false,
		ContentComplexity: ComplexityLow,
	}

	for _, thermal := range []sampler.ThermalState{sampler.ThermalNominal, sampler.ThermalFair, sampler.ThermalCritical} {
		for _, motionHigh := range []bool{false, true} {
			prev := -1.0
			for level := 0.0; level < th.LowBattery; level += 0.005 {
				m := base
				m.BatteryLevel = level
				m.ThermalState = thermal

				rate := CandidateRate(th, 120, m, motionHigh)
				assert.GreaterOrEqual(t, rate, prev, "battery %.3f", level)
				prev = rate
			}
		}
	}
}

func TestCandidateRate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name   string
		m      FrameRateMetrics
		motion bool
		want   float64
	}{
		{
			name: "plugged in, low load",
			m:    FrameRateMetrics{PluggedIn: true, CPUUsage: 10, GPUUsage: 10, ContentComplexity: ComplexityMedium},
			want: 90,
		},
		{
			name:   "plugged in, low load, motion",
			m:      FrameRateMetrics{PluggedIn: true, CPUUsage: 10, GPUUsage: 10, ContentComplexity: ComplexityMedium},
			motion: true,
			want:   108,
		},
		{
			name: "minimal content gets no boost",
			m:    FrameRateMetrics{PluggedIn: true, CPUUsage: 10, GPUUsage: 10, ContentComplexity: ComplexityMinimal},
			want: 60,
		},
		{
			name: "high load",
			m:    FrameRateMetrics{PluggedIn: true, GPUUsage: 95, ContentComplexity: ComplexityMedium},
			want: 45,
		},
		{
			name:   "serious thermal caps boost",
			m:      FrameRateMetrics{PluggedIn: true, ThermalState: sampler.ThermalSerious, ContentComplexity: ComplexityHigh},
			motion: true,
			want:   60,
		},
		{
			name: "extreme content",
			m:    FrameRateMetrics{PluggedIn: true, CPUUsage: 10, GPUUsage: 10, ContentComplexity: ComplexityExtreme},
			want: 60,
		},
		{
			name:   "critical battery",
			m:      FrameRateMetrics{BatteryLevel: 0.05, CPUUsage: 10, GPUUsage: 10, ContentComplexity: ComplexityMedium},
			motion: true,
			want:   30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CandidateRate(th, 120, tt.m, tt.motion), 1e-9)
		})
	}
}

func TestQuantize(t *testing.T) {
	rates := DefaultSupportedRates

	tests := []struct {
		in   float64
		want int
	}{
		{0, 30},
		{45, 48},
		{54, 48},
		{66, 60},
		{67, 72},
		{81, 72},
		{105, 90},
		{108, 120},
		{500, 120},
		{-1, 30},
		{math.NaN(), 30},
		{math.Inf(1), 120},
		{math.Inf(-1), 30},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Quantize(tt.in, rates), "rate %v", tt.in)
	}

	assert.Equal(t, 60, Quantize(61, nil))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupportedRates = []int{120, 60, 60, 30}
	got, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60, 120}, got.SupportedRates)

	cfg.SupportedRates = nil
	_, err = cfg.Validate()
	assert.True(t, errors.HasCode(err, errors.ErrInvalidRates))

	cfg = DefaultConfig()
	cfg.Thresholds.CPUHigh = 140
	_, err = cfg.Validate()
	assert.True(t, errors.HasCode(err, ErrInvalidThreshold))

	cfg = DefaultConfig()
	cfg.Cooldown = -time.Second
	_, err = NewEngine(cfg)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
}

func TestParse(t *testing.T) {
	c, err := ParseComplexity("HIGH")
	require.NoError(t, err)
	assert.Equal(t, ComplexityHigh, c)

	_, err = ParseComplexity("insane")
	assert.True(t, errors.HasCode(err, ErrInvalidComplexity))

	mode, err := ParseMode(" Manual ")
	require.NoError(t, err)
	assert.Equal(t, ModeManual, mode)

	_, err = ParseMode("auto")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidMode))
}
