// Package motion tracks pointer velocity and extrapolates near-future motion.
package motion

import (
	"math"
	"sync"

	"codeberg.org/mutker/framectl/internal/history"
)

const (
	historySize       = 10
	minStableSamples  = 3
	stabilityVariance = 0.1
)

// Predictor keeps the recent velocity magnitudes (px/s) and the
// frame-to-frame acceleration derived from them.
type Predictor struct {
	velocities    *history.Bounded[float64]
	accelerations *history.Bounded[float64]
	mu            sync.Mutex
}

func NewPredictor() *Predictor {
	return &Predictor{
		velocities:    history.New[float64](historySize),
		accelerations: history.New[float64](historySize),
	}
}

// AddVelocity records one velocity sample. Non-finite values count as 0.
func (p *Predictor) AddVelocity(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.velocities.Last()
	p.velocities.Append(v)
	if ok {
		p.accelerations.Append(v - prev)
	}
}

// PredictMotion extrapolates the velocity timeAhead seconds from now using
// the last velocity and acceleration. It returns 0 without samples.
func (p *Predictor) PredictMotion(timeAhead float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.velocities.Last()
	if !ok {
		return 0
	}
	a, _ := p.accelerations.Last()

	return v + a*timeAhead
}

// IsMotionStable reports whether the acceleration has settled: at least
// three samples with a sample variance below 0.1.
func (p *Predictor) IsMotionStable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.accelerations.Len()
	if n < minStableSamples {
		return false
	}

	var sum float64
	p.accelerations.Do(func(a float64) { sum += a })
	mean := sum / float64(n)

	var sq float64
	p.accelerations.Do(func(a float64) {
		d := a - mean
		sq += d * d
	})

	return sq/float64(n-1) < stabilityVariance
}

// Velocities returns a copy of the velocity window, oldest first.
func (p *Predictor) Velocities() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.velocities.Values()
}

// Accelerations returns a copy of the acceleration window, oldest first.
func (p *Predictor) Accelerations() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accelerations.Values()
}

func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.velocities.Reset()
	p.accelerations.Reset()
}
