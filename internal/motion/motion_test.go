package motion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredictMotionEmpty(t *testing.T) {
	p := NewPredictor()
	assert.Zero(t, p.PredictMotion(0.1))
	assert.False(t, p.IsMotionStable())
}

func TestPredictMotionSingleSample(t *testing.T) {
	p := NewPredictor()
	p.AddVelocity(42)

	assert.Equal(t, 42.0, p.PredictMotion(0.5))
	assert.Empty(t, p.Accelerations())
}

func TestPredictMotionExtrapolates(t *testing.T) {
	p := NewPredictor()
	p.AddVelocity(100)
	p.AddVelocity(120)

	assert.InDelta(t, 122.0, p.PredictMotion(0.1), 1e-9)
	assert.InDelta(t, 140.0, p.PredictMotion(1), 1e-9)
}

func TestZeroLookAheadIsLastVelocity(t *testing.T) {
	p := NewPredictor()
	for _, v := range []float64{3, 17, 8.5, 250, 0.25, 90} {
		p.AddVelocity(v)
		assert.Equal(t, v, p.PredictMotion(0))
	}
}

func TestHistoriesStayBounded(t *testing.T) {
	p := NewPredictor()
	for i := 0; i < 100; i++ {
		p.AddVelocity(float64(i))
		assert.LessOrEqual(t, len(p.Velocities()), historySize)
		assert.LessOrEqual(t, len(p.Accelerations()), historySize)
	}

	assert.Len(t, p.Velocities(), historySize)
	assert.Len(t, p.Accelerations(), historySize)
}

func TestAccelerationLagsVelocityByOne(t *testing.T) {
	p := NewPredictor()
	for i := 1; i <= 5; i++ {
		p.AddVelocity(float64(i * 10))
		assert.Len(t, p.Accelerations(), i-1)
	}
	assert.Equal(t, []float64{10, 10, 10, 10}, p.Accelerations())
}

func TestIsMotionStable(t *testing.T) {
	tests := []struct {
		name       string
		velocities []float64
		want       bool
	}{
		{"too few samples", []float64{1, 2, 3}, false},
		{"constant velocity", []float64{150, 150, 150, 150}, true},
		{"constant acceleration", []float64{10, 20, 30, 40, 50}, true},
		{"noisy", []float64{10, 50, 5, 80, 0}, false},
		{"small jitter", []float64{100, 100.1, 100, 100.1, 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPredictor()
			for _, v := range tt.velocities {
				p.AddVelocity(v)
			}
			assert.Equal(t, tt.want, p.IsMotionStable())
		})
	}
}

func TestNonFiniteVelocity(t *testing.T) {
	p := NewPredictor()
	p.AddVelocity(math.NaN())
	p.AddVelocity(math.Inf(1))

	assert.Zero(t, p.PredictMotion(1))
}

func TestReset(t *testing.T) {
	p := NewPredictor()
	p.AddVelocity(5)
	p.AddVelocity(10)
	p.Reset()

	assert.Empty(t, p.Velocities())
	assert.Empty(t, p.Accelerations())
	assert.Zero(t, p.PredictMotion(1))
}
