// Package energy models the power cost of a rendering profile and measures
// the real cost of running one over a session.
package energy

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/profile"
	"codeberg.org/mutker/framectl/internal/sampler"
	"github.com/google/uuid"
)

const (
	DefaultPackVoltage = 11.1
	DefaultCapacityMAh = 5000.0
	DefaultBaseline    = 2.0

	referenceRate = 60.0

	effectsWatts      = 0.35
	bloomWatts        = 0.4
	particlesWatts    = 0.6
	textureWatts      = 1.2
	textureKneeFactor = 0.5
)

var qualityWatts = map[profile.Quality]float64{
	profile.QualityLow:    0.2,
	profile.QualityMedium: 0.5,
	profile.QualityHigh:   0.9,
	profile.QualityUltra:  1.4,
}

// Config describes the battery pack.
type Config struct {
	PackVoltage float64 `mapstructure:"pack_voltage"`
	CapacityMAh float64 `mapstructure:"capacity_mah"`
	Baseline    float64 `mapstructure:"baseline_watts"`
}

func DefaultConfig() Config {
	return Config{
		PackVoltage: DefaultPackVoltage,
		CapacityMAh: DefaultCapacityMAh,
		Baseline:    DefaultBaseline,
	}
}

// Impact is the result of one closed measurement session.
type Impact struct {
	SessionID        string        `json:"session_id"`
	Mode             profile.Mode  `json:"mode"`
	FrameRate        int           `json:"frame_rate"`
	CPUUsage         float64       `json:"cpu_usage"`
	GPUUsage         float64       `json:"gpu_usage"`
	BatteryDrainRate float64       `json:"battery_drain_rate_mah"`
	Efficiency       float64       `json:"efficiency"`
	Duration         time.Duration `json:"duration"`
	Timestamp        time.Time     `json:"timestamp"`
}

type session struct {
	id        string
	mode      profile.Mode
	profile   profile.Profile
	baseline  float64
	started   time.Time
	samples   int
	cpuSum    float64
	gpuSum    float64
	drawSum   float64
	drawCount int
}

// Estimator owns at most one measurement session at a time.
type Estimator struct {
	cfg     Config
	mu      sync.Mutex
	session *session
}

func New(cfg Config) *Estimator {
	if cfg.PackVoltage <= 0 {
		cfg.PackVoltage = DefaultPackVoltage
	}
	if cfg.CapacityMAh <= 0 {
		cfg.CapacityMAh = DefaultCapacityMAh
	}
	if cfg.Baseline < 0 || math.IsNaN(cfg.Baseline) {
		cfg.Baseline = DefaultBaseline
	}

	return &Estimator{cfg: cfg}
}

func (e *Estimator) Config() Config {
	return e.cfg
}

// EstimateDrain returns the modelled draw in watts of running p on top of
// baselineWatts. It has no hidden state.
func EstimateDrain(p profile.Profile, baselineWatts float64) float64 {
	if baselineWatts < 0 || math.IsNaN(baselineWatts) || math.IsInf(baselineWatts, 0) {
		baselineWatts = 0
	}
	rate := math.Max(0, float64(p.FrameRate))

	watts := baselineWatts*rate/referenceRate + qualityWatts[p.VisualizationQuality]
	if p.EffectsEnabled {
		watts += effectsWatts
	}
	if p.BloomEnabled {
		watts += bloomWatts
	}
	if p.ParticlesEnabled {
		watts += particlesWatts
	}
	if tq := p.TextureQuality; !math.IsNaN(tq) {
		watts += textureWatts * math.Max(0, math.Min(1, tq)-textureKneeFactor)
	}

	return watts
}

// DrainRate converts a draw in watts to mAh per hour at the pack voltage.
func (e *Estimator) DrainRate(watts float64) float64 {
	if watts <= 0 || math.IsNaN(watts) {
		return 0
	}

	return watts / e.cfg.PackVoltage * 1000
}

// EstimateBatteryLife returns -1 when plugged in or when the drain is not
// positive, else the time until the pack is empty.
func (e *Estimator) EstimateBatteryLife(p profile.Profile, state sampler.PowerState, baselineWatts float64) time.Duration {
	if state.PluggedIn {
		return -1
	}

	drain := e.DrainRate(EstimateDrain(p, baselineWatts))
	if drain <= 0 {
		return -1
	}

	remaining := math.Max(0, math.Min(1, state.BatteryLevel)) * e.cfg.CapacityMAh

	return time.Duration(remaining / drain * float64(time.Hour))
}

// StartMeasurement opens a session. A second start while one is active is
// rejected and the running session is left untouched.
func (e *Estimator) StartMeasurement(mode profile.Mode, p profile.Profile, baselineWatts float64, now time.Time) error {
	if baselineWatts < 0 || math.IsNaN(baselineWatts) || math.IsInf(baselineWatts, 0) {
		return errors.New().WithData(ErrInvalidBaseline, baselineWatts)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return errors.New().WithData(ErrMeasurementActive, e.session.id)
	}

	e.session = &session{
		id:       uuid.NewString(),
		mode:     mode,
		profile:  p,
		baseline: baselineWatts,
		started:  now,
	}

	return nil
}

// Active reports whether a session is open.
func (e *Estimator) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Observe folds a sample into the open session, if any.
func (e *Estimator) Observe(sample sampler.PerformanceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return
	}

	s.samples++
	s.cpuSum += sample.CPUUsage
	s.gpuSum += sample.GPUUsage
	if w := sample.Power.PowerDrawWatts; w > 0 {
		s.drawSum += w
		s.drawCount++
	}
}

// StopMeasurement closes the session. The second result is false when no
// session was open.
func (e *Estimator) StopMeasurement(now time.Time) (Impact, bool) {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s == nil {
		return Impact{}, false
	}

	watts := EstimateDrain(s.profile, s.baseline)
	if s.drawCount > 0 {
		watts = s.drawSum / float64(s.drawCount)
	}

	impact := Impact{
		SessionID:        s.id,
		Mode:             s.mode,
		FrameRate:        s.profile.FrameRate,
		BatteryDrainRate: e.DrainRate(watts),
		Duration:         now.Sub(s.started),
		Timestamp:        now,
	}
	if impact.Duration < 0 {
		impact.Duration = 0
	}
	if s.samples > 0 {
		impact.CPUUsage = s.cpuSum / float64(s.samples)
		impact.GPUUsage = s.gpuSum / float64(s.samples)
	}
	if watts > 0 {
		impact.Efficiency = float64(s.profile.FrameRate) / watts
	}

	return impact, true
}
