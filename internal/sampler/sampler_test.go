package sampler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestSampleWithoutSourcesUsesDefaults(t *testing.T) {
	s := New(Sources{}, WithClock(clock))
	sample := s.Sample(context.Background())

	assert.Equal(t, fixedNow, sample.Timestamp)
	assert.Zero(t, sample.CPUUsage)
	assert.Zero(t, sample.GPUUsage)
	assert.Zero(t, sample.MemoryPressure)
	assert.Equal(t, ThermalNominal, sample.ThermalState)
	assert.Equal(t, DefaultPowerState(), sample.Power)
}

func TestSampleCombinesSources(t *testing.T) {
	s := New(Sources{
		CPU:    CPUFunc(func(context.Context) (float64, error) { return 42, nil }),
		GPU:    GPUFunc(func(context.Context) (float64, error) { return 55, nil }),
		Memory: MemoryFunc(func(context.Context) (float64, error) { return 0.4, nil }),
		Thermal: ThermalFunc(func(context.Context) (ThermalState, error) {
			return ThermalSerious, nil
		}),
		Power: PowerFunc(func(context.Context) (PowerState, error) {
			return PowerState{BatteryLevel: 0.5, PluggedIn: false, TimeRemaining: time.Hour, PowerDrawWatts: 12}, nil
		}),
	}, WithClock(clock))

	sample := s.Sample(context.Background())
	assert.Equal(t, 42.0, sample.CPUUsage)
	assert.Equal(t, 55.0, sample.GPUUsage)
	assert.Equal(t, 0.4, sample.MemoryPressure)
	assert.Equal(t, ThermalSerious, sample.ThermalState)
	assert.Equal(t, ThermalSerious, sample.Power.ThermalState)
	assert.Equal(t, 0.5, sample.Power.BatteryLevel)
	assert.False(t, sample.Power.PluggedIn)
	assert.Equal(t, 12.0, sample.Power.PowerDrawWatts)
}

func TestSampleFailingSourcesFallBack(t *testing.T) {
	boom := errors.New("no sensor")
	s := New(Sources{
		CPU:     CPUFunc(func(context.Context) (float64, error) { return 99, boom }),
		Thermal: ThermalFunc(func(context.Context) (ThermalState, error) { return ThermalCritical, boom }),
		Power:   PowerFunc(func(context.Context) (PowerState, error) { panic("driver crashed") }),
	})

	sample := s.Sample(context.Background())
	assert.Zero(t, sample.CPUUsage)
	assert.Equal(t, ThermalNominal, sample.ThermalState)
	assert.Equal(t, DefaultPowerState(), sample.Power)
}

func TestSampleDoesNotBlockOnHungSource(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := New(Sources{
		GPU: GPUFunc(func(context.Context) (float64, error) {
			<-release
			return 80, nil
		}),
	}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	sample := s.Sample(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, sample.GPUUsage)
}

func TestSampleClampsValues(t *testing.T) {
	s := New(Sources{
		CPU:    CPUFunc(func(context.Context) (float64, error) { return -5, nil }),
		GPU:    GPUFunc(func(context.Context) (float64, error) { return math.NaN(), nil }),
		Memory: MemoryFunc(func(context.Context) (float64, error) { return 7, nil }),
		Thermal: ThermalFunc(func(context.Context) (ThermalState, error) {
			return ThermalState(12), nil
		}),
		Power: PowerFunc(func(context.Context) (PowerState, error) {
			return PowerState{BatteryLevel: 1.7, PowerDrawWatts: math.Inf(1), TimeRemaining: -time.Minute}, nil
		}),
	})

	sample := s.Sample(context.Background())
	assert.Zero(t, sample.CPUUsage)
	assert.Zero(t, sample.GPUUsage)
	assert.Equal(t, 1.0, sample.MemoryPressure)
	assert.Equal(t, ThermalCritical, sample.ThermalState)
	assert.Equal(t, 1.0, sample.Power.BatteryLevel)
	assert.Zero(t, sample.Power.PowerDrawWatts)
	assert.Equal(t, time.Duration(-1), sample.Power.TimeRemaining)
}

type fixedTemp float64

func (f fixedTemp) Temperature(context.Context) (float64, error) { return float64(f), nil }

type failingTemp struct{}

func (failingTemp) Temperature(context.Context) (float64, error) {
	return 0, errors.New("unreadable")
}

func TestThermalFromTemperatures(t *testing.T) {
	limits := DefaultTemperatureLimits()

	state, err := ThermalFromTemperatures(limits, fixedTemp(55), fixedTemp(83), failingTemp{}).
		ThermalState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ThermalSerious, state)

	_, err = ThermalFromTemperatures(limits, failingTemp{}).ThermalState(context.Background())
	assert.Error(t, err)

	_, err = ThermalFromTemperatures(limits).ThermalState(context.Background())
	assert.Error(t, err)
}

func TestTemperatureLimits(t *testing.T) {
	limits := DefaultTemperatureLimits()
	assert.Equal(t, ThermalNominal, limits.State(40))
	assert.Equal(t, ThermalFair, limits.State(70))
	assert.Equal(t, ThermalSerious, limits.State(85))
	assert.Equal(t, ThermalCritical, limits.State(95))
}

func TestParseThermalState(t *testing.T) {
	for _, s := range []ThermalState{ThermalNominal, ThermalFair, ThermalSerious, ThermalCritical} {
		parsed, err := ParseThermalState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseThermalState("molten")
	assert.Error(t, err)
}

func TestChanged(t *testing.T) {
	base := PerformanceSample{ThermalState: ThermalNominal, Power: DefaultPowerState()}

	unplugged := base
	unplugged.Power.PluggedIn = false
	assert.True(t, Changed(base, unplugged))

	hot := base
	hot.ThermalState = ThermalFair
	assert.True(t, Changed(base, hot))

	busy := base
	busy.CPUUsage = 90
	assert.False(t, Changed(base, busy))
}

type drawFunc func(ctx context.Context) (float64, error)

func (f drawFunc) PowerDraw(ctx context.Context) (float64, error) { return f(ctx) }

func TestWithDrawFallback(t *testing.T) {
	gpuDraw := drawFunc(func(context.Context) (float64, error) { return 42, nil })

	state, err := WithDrawFallback(nil, gpuDraw).PowerState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.PluggedIn)
	assert.InDelta(t, 42, state.PowerDrawWatts, 1e-9)

	battery := PowerFunc(func(context.Context) (PowerState, error) {
		return PowerState{BatteryLevel: 0.5, PowerDrawWatts: 12, TimeRemaining: -1}, nil
	})
	state, err = WithDrawFallback(battery, gpuDraw).PowerState(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12, state.PowerDrawWatts, 1e-9, "reported battery draw wins")

	broken := drawFunc(func(context.Context) (float64, error) { return 0, errors.New("nvml") })
	state, err = WithDrawFallback(nil, broken).PowerState(context.Background())
	require.NoError(t, err)
	assert.Zero(t, state.PowerDrawWatts)

	failing := PowerFunc(func(context.Context) (PowerState, error) {
		return PowerState{}, errors.New("sysfs")
	})
	_, err = WithDrawFallback(failing, gpuDraw).PowerState(context.Background())
	assert.Error(t, err)
}
