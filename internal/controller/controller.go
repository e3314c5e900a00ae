// Package controller ties the sampler, trackers and policy engine together
// and owns the active rendering profile.
package controller

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/energy"
	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/frames"
	"codeberg.org/mutker/framectl/internal/logger"
	"codeberg.org/mutker/framectl/internal/motion"
	"codeberg.org/mutker/framectl/internal/policy"
	"codeberg.org/mutker/framectl/internal/profile"
	"codeberg.org/mutker/framectl/internal/sampler"
)

const (
	DefaultInterval = time.Second

	recentEvents   = 10
	thermalPenalty = 10.0
	maxScore       = 100.0
)

// SampleSource produces one performance sample per call. *sampler.Sampler
// satisfies it.
type SampleSource interface {
	Sample(ctx context.Context) sampler.PerformanceSample
}

// Config is the controller's startup state.
type Config struct {
	Policy             policy.Config
	Energy             energy.Config
	Mode               policy.Mode
	Profile            profile.Profile
	Complexity         policy.Complexity
	Interval           time.Duration
	FrameWindow        int
	AdaptationCapacity int
}

// DefaultConfig starts in automatic mode on the balanced preset.
func DefaultConfig() Config {
	return Config{
		Policy:             policy.DefaultConfig(),
		Energy:             energy.DefaultConfig(),
		Mode:               policy.ModeAutomatic,
		Profile:            profile.Default(),
		Complexity:         policy.ComplexityMedium,
		Interval:           DefaultInterval,
		FrameWindow:        frames.DefaultWindow,
		AdaptationCapacity: 100,
	}
}

type Option func(*Controller)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// Controller evaluates the policy once per interval and whenever the power
// source or thermal state changes. The active profile is readable from any
// goroutine without locking.
type Controller struct {
	cfg     Config
	source  SampleSource
	engine  *policy.Engine
	frames  *frames.Tracker
	motion  *motion.Predictor
	energy  *energy.Estimator
	history *adaptation.Log
	log     logger.Logger
	now     func() time.Time

	active atomic.Pointer[profile.Profile]

	mu                sync.Mutex
	mode              policy.Mode
	adaptationEnabled bool
	override          bool
	complexity        policy.Complexity
	sample            sampler.PerformanceSample
	sampled           bool
	metrics           policy.FrameRateMetrics

	subMu      sync.RWMutex
	nextSubID  uint64
	eventSubs  map[uint64]func(adaptation.Event)
	metricSubs map[uint64]func(policy.FrameRateMetrics)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, source SampleSource, opts ...Option) (*Controller, error) {
	engine, err := policy.NewEngine(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, errors.New().WithData(errors.ErrInvalidInterval, cfg.Interval.String())
	}
	if cfg.Mode == "" {
		cfg.Mode = policy.ModeAutomatic
	}
	if _, err := policy.ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	cfg.Policy = engine.Config()
	cfg.Profile = cfg.Profile.Normalize(policy.DefaultStartRate)

	c := &Controller{
		cfg:               cfg,
		source:            source,
		engine:            engine,
		frames:            frames.NewTracker(cfg.FrameWindow),
		motion:            motion.NewPredictor(),
		energy:            energy.New(cfg.Energy),
		history:           adaptation.NewLog(cfg.AdaptationCapacity),
		log:               logger.Component("controller"),
		now:               time.Now,
		mode:              cfg.Mode,
		adaptationEnabled: true,
		complexity:        cfg.Complexity,
		sample:            sampler.PerformanceSample{Power: sampler.DefaultPowerState()},
		eventSubs:         make(map[uint64]func(adaptation.Event)),
		metricSubs:        make(map[uint64]func(policy.FrameRateMetrics)),
	}
	for _, opt := range opts {
		opt(c)
	}

	engine.SetBaseline(cfg.Complexity)

	p := cfg.Profile
	c.active.Store(&p)
	c.frames.SetTargetRate(float64(p.FrameRate))
	c.metrics = c.buildMetrics()

	return c, nil
}

// Subscribe registers fn for committed adaptations. Callbacks run on the
// evaluating goroutine after its locks are released and should return
// quickly. The returned func removes the subscription.
func (c *Controller) Subscribe(fn func(adaptation.Event)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.eventSubs[id] = fn

	return func() {
		c.subMu.Lock()
		delete(c.eventSubs, id)
		c.subMu.Unlock()
	}
}

// SubscribeMetrics registers fn for the metrics of every evaluation.
func (c *Controller) SubscribeMetrics(fn func(policy.FrameRateMetrics)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.metricSubs[id] = fn

	return func() {
		c.subMu.Lock()
		delete(c.metricSubs, id)
		c.subMu.Unlock()
	}
}

// RecordFrame registers a presented frame. It is safe to call from the
// render loop.
func (c *Controller) RecordFrame(at time.Time) {
	c.frames.RecordFrame(at)
}

// AddVelocity records a pointer velocity sample in px/s.
func (c *Controller) AddVelocity(v float64) {
	c.motion.AddVelocity(v)
}

// Ingest stores s as the latest sample. A change of power source or thermal
// state triggers an immediate evaluation, whose decision is returned with
// true.
func (c *Controller) Ingest(s sampler.PerformanceSample) (policy.Decision, bool) {
	c.mu.Lock()
	changed := c.sampled && sampler.Changed(c.sample, s)
	c.storeSample(s)
	if !changed {
		c.mu.Unlock()
		return policy.Decision{}, false
	}

	c.log.Debug().
		Bool("plugged_in", s.Power.PluggedIn).
		Str("thermal", s.ThermalState.String()).
		Msg("Power or thermal state changed, evaluating")

	d, ev, ok := c.evaluateLocked()
	c.mu.Unlock()

	c.publish(d, ev, ok)
	return d, true
}

// Tick samples the system and runs one evaluation.
func (c *Controller) Tick(ctx context.Context) policy.Decision {
	var s sampler.PerformanceSample
	if c.source != nil {
		s = c.source.Sample(ctx)
	}

	c.mu.Lock()
	if c.source != nil {
		c.storeSample(s)
	}
	d, ev, ok := c.evaluateLocked()
	c.mu.Unlock()

	c.publish(d, ev, ok)
	return d
}

func (c *Controller) storeSample(s sampler.PerformanceSample) {
	c.sample = s
	c.sampled = true
	c.energy.Observe(s)
}

func (c *Controller) buildMetrics() policy.FrameRateMetrics {
	m := policy.FrameRateMetrics{
		CurrentRate:       c.frames.AverageFrameRate(),
		TargetRate:        c.active.Load().FrameRate,
		ContentComplexity: c.complexity,
		FrameDropRate:     c.frames.DropRate(),
	}
	return policy.MetricsFromSample(m, c.sample)
}

func (c *Controller) evaluateLocked() (policy.Decision, adaptation.Event, bool) {
	now := c.now()
	d := c.engine.Evaluate(policy.Input{
		Metrics:           c.buildMetrics(),
		Motion:            c.motion,
		Mode:              c.mode,
		AdaptationEnabled: c.adaptationEnabled,
		OverrideActive:    c.override,
		Now:               now,
	})
	c.metrics = d.Metrics

	if !d.Changed() {
		return d, adaptation.Event{}, false
	}

	next := c.active.Load().WithFrameRate(d.ToRate)
	c.active.Store(&next)
	c.frames.SetTargetRate(float64(d.ToRate))

	ev := adaptation.NewEvent(d, now)
	c.history.Append(ev)

	c.log.Info().
		Int("from", d.FromRate).
		Int("to", d.ToRate).
		Str("reason", d.Reason).
		Msg("Frame rate adapted")

	return d, ev, true
}

// publish runs the callbacks on a snapshot taken under subMu, so a
// callback may cancel its own subscription.
func (c *Controller) publish(d policy.Decision, ev adaptation.Event, committed bool) {
	c.subMu.RLock()
	metricFns := make([]func(policy.FrameRateMetrics), 0, len(c.metricSubs))
	for _, fn := range c.metricSubs {
		metricFns = append(metricFns, fn)
	}
	var eventFns []func(adaptation.Event)
	if committed {
		eventFns = make([]func(adaptation.Event), 0, len(c.eventSubs))
		for _, fn := range c.eventSubs {
			eventFns = append(eventFns, fn)
		}
	}
	c.subMu.RUnlock()

	for _, fn := range metricFns {
		fn(d.Metrics)
	}
	for _, fn := range eventFns {
		fn(ev)
	}
}

// Start runs Tick every interval until ctx is done or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return errors.New().New(errors.ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, c.done)

	c.log.Info().
		Dur("interval", c.cfg.Interval).
		Str("mode", string(c.Mode())).
		Int("frame_rate", c.ActiveProfile().FrameRate).
		Msg("Controller started")

	return nil
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Stop cancels the loop started by Start and waits for it to exit.
func (c *Controller) Stop() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return errors.New().New(ErrNotRunning)
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil

	c.log.Info().Msg("Controller stopped")
	return nil
}

// ActiveProfile returns the profile rendering should use.
func (c *Controller) ActiveProfile() profile.Profile {
	return *c.active.Load()
}

// CurrentMetrics returns the metrics of the most recent evaluation.
func (c *Controller) CurrentMetrics() policy.FrameRateMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Controller) Mode() policy.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) SetMode(m policy.Mode) error {
	mode, err := policy.ParseMode(string(m))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()

	c.log.Info().Str("mode", string(mode)).Msg("Mode changed")
	return nil
}

func (c *Controller) SetContentComplexity(cx policy.Complexity) error {
	if cx < policy.ComplexityMinimal || cx > policy.ComplexityExtreme {
		return errors.New().WithData(policy.ErrInvalidComplexity, int(cx))
	}

	c.mu.Lock()
	c.complexity = cx
	c.mu.Unlock()
	return nil
}

func (c *Controller) ContentComplexity() policy.Complexity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complexity
}

// EnableAdaptation turns automatic adaptation on or off without changing
// the mode.
func (c *Controller) EnableAdaptation(enabled bool) {
	c.mu.Lock()
	c.adaptationEnabled = enabled
	c.mu.Unlock()
}

func (c *Controller) AdaptationEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adaptationEnabled
}

// ForceProfile makes p active and suspends adaptation until ClearOverride.
func (c *Controller) ForceProfile(p profile.Profile) {
	p = p.Normalize(c.ActiveProfile().FrameRate)

	c.mu.Lock()
	c.override = true
	c.active.Store(&p)
	c.frames.SetTargetRate(float64(p.FrameRate))
	c.metrics.TargetRate = p.FrameRate
	c.mu.Unlock()

	c.log.Info().Int("frame_rate", p.FrameRate).Msg("Profile override set")
}

// ForcePreset forces the named preset.
func (c *Controller) ForcePreset(mode profile.Mode) error {
	p, ok := profile.Preset(mode)
	if !ok {
		return errors.New().WithData(ErrUnknownProfile, string(mode))
	}

	c.ForceProfile(p)
	return nil
}

// ClearOverride resumes adaptation from the currently active profile.
func (c *Controller) ClearOverride() {
	c.mu.Lock()
	c.override = false
	c.mu.Unlock()
}

func (c *Controller) OverrideActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.override
}

// Reset clears frame, motion and adaptation history along with the
// engine's cooldown. The active profile is kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames.Reset()
	c.motion.Reset()
	c.history.Reset()
	c.engine.Reset()
	c.engine.SetBaseline(c.complexity)
	c.metrics = c.buildMetrics()
}

// AdaptationHistory returns the recorded adaptations, oldest first.
func (c *Controller) AdaptationHistory() []adaptation.Event {
	return c.history.Events()
}

// EstimateBatteryLife predicts how long the battery lasts running p at the
// latest power state. It returns -1 on mains power.
func (c *Controller) EstimateBatteryLife(p profile.Profile) time.Duration {
	c.mu.Lock()
	state := c.sample.Power
	c.mu.Unlock()

	return c.energy.EstimateBatteryLife(p, state, c.cfg.Energy.Baseline)
}

// StartEnergyMeasurement begins a measurement session for the named preset.
func (c *Controller) StartEnergyMeasurement(mode profile.Mode) error {
	p, ok := profile.Preset(mode)
	if !ok {
		return errors.New().WithData(ErrUnknownProfile, string(mode))
	}

	return c.energy.StartMeasurement(mode, p, c.cfg.Energy.Baseline, c.now())
}

// StopEnergyMeasurement ends the running session. ok is false when none
// was active.
func (c *Controller) StopEnergyMeasurement() (energy.Impact, bool) {
	return c.energy.StopMeasurement(c.now())
}

// FrameStats summarizes the frame window.
type FrameStats struct {
	AverageRate float64 `json:"average_rate"`
	DropRate    float64 `json:"drop_rate"`
	StutterRate float64 `json:"stutter_rate"`
	Samples     int     `json:"samples"`
}

func (c *Controller) FrameStats() FrameStats {
	return FrameStats{
		AverageRate: c.frames.AverageFrameRate(),
		DropRate:    c.frames.DropRate(),
		StutterRate: c.frames.StutterRate(),
		Samples:     c.frames.Len(),
	}
}

// Diagnostics is the document produced by ExportDiagnostics.
type Diagnostics struct {
	GeneratedAt       time.Time               `json:"generated_at"`
	Mode              policy.Mode             `json:"mode"`
	AdaptationEnabled bool                    `json:"adaptation_enabled"`
	OverrideActive    bool                    `json:"override_active"`
	Profile           profile.Profile         `json:"profile"`
	Metrics           policy.FrameRateMetrics `json:"metrics"`
	Frames            FrameStats              `json:"frames"`
	Power             sampler.PowerState      `json:"power"`
	BatteryLifeSecs   float64                 `json:"battery_life_seconds"`
	PredictedMotion   float64                 `json:"predicted_motion"`
	MotionStable      bool                    `json:"motion_stable"`
	Score             float64                 `json:"performance_score"`
	RecentAdaptations []adaptation.Event      `json:"recent_adaptations"`
	Settings          DiagnosticsSettings     `json:"settings"`
}

type DiagnosticsSettings struct {
	Interval       time.Duration `json:"interval"`
	Cooldown       time.Duration `json:"cooldown"`
	MinDelta       int           `json:"min_delta"`
	SupportedRates []int         `json:"supported_rates"`
}

// Snapshot assembles the current diagnostics document.
func (c *Controller) Snapshot() Diagnostics {
	c.mu.Lock()
	m := c.metrics
	power := c.sample.Power
	d := Diagnostics{
		GeneratedAt:       c.now(),
		Mode:              c.mode,
		AdaptationEnabled: c.adaptationEnabled,
		OverrideActive:    c.override,
	}
	c.mu.Unlock()

	p := c.ActiveProfile()
	d.Profile = p
	d.Metrics = m
	d.Frames = c.FrameStats()
	d.Power = power
	if life := c.energy.EstimateBatteryLife(p, power, c.cfg.Energy.Baseline); life >= 0 {
		d.BatteryLifeSecs = life.Seconds()
	} else {
		d.BatteryLifeSecs = -1
	}
	d.PredictedMotion = c.motion.PredictMotion(c.cfg.Policy.LookAhead)
	d.MotionStable = c.motion.IsMotionStable()
	d.Score = Score(m)
	d.RecentAdaptations = c.history.Recent(recentEvents)
	d.Settings = DiagnosticsSettings{
		Interval:       c.cfg.Interval,
		Cooldown:       c.cfg.Policy.Cooldown,
		MinDelta:       c.cfg.Policy.MinDelta,
		SupportedRates: c.cfg.Policy.SupportedRates,
	}

	return d
}

// ExportDiagnostics serializes Snapshot as indented JSON.
func (c *Controller) ExportDiagnostics() ([]byte, error) {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return nil, errors.New().Wrap(ErrExportFailed, err)
	}
	return data, nil
}

// Score rates how well the target is being met on a 0..100 scale. Drops
// and a shortfall against the target scale it down; every thermal level
// above nominal costs ten points. Without a measured rate the shortfall
// is ignored.
func Score(m policy.FrameRateMetrics) float64 {
	ratio := 1.0
	if m.CurrentRate > 0 && m.TargetRate > 0 {
		ratio = math.Min(1, m.CurrentRate/float64(m.TargetRate))
	}

	drop := m.FrameDropRate
	if math.IsNaN(drop) {
		drop = 0
	}
	drop = math.Max(0, math.Min(1, drop))

	score := maxScore*(1-drop)*ratio - thermalPenalty*float64(m.ThermalState)
	return math.Max(0, math.Min(maxScore, score))
}
