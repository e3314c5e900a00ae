package gpu

import (
	"context"
	"sync"

	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const temperatureWindowSize = 5

// GPU reads utilization, temperature and board power from one NVML device.
type GPU struct {
	lib                library
	device             device
	name               string
	power              *powerWindow
	temperatureHistory []Temperature
	mu                 sync.Mutex
	logger             logger.Logger
}

// New initializes NVML and opens the device at index.
func New(index int, log logger.Logger) (*GPU, error) {
	return open(&nvmlWrapper{}, index, log)
}

func open(lib library, index int, log logger.Logger) (*GPU, error) {
	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	count, err := lib.GetDeviceCount()
	if err != nil {
		_ = lib.Shutdown()
		return nil, err
	}
	if index < 0 || index >= count {
		_ = lib.Shutdown()
		return nil, errors.New().WithData(ErrDeviceNotFound, index)
	}

	dev, err := lib.GetDevice(index)
	if err != nil {
		_ = lib.Shutdown()
		return nil, err
	}

	g := &GPU{
		lib:                lib,
		device:             dev,
		power:              newPowerWindow(),
		temperatureHistory: make([]Temperature, 0, temperatureWindowSize),
		logger:             log,
	}

	if name, ret := dev.GetName(); IsNVMLSuccess(ret) {
		g.name = name
		log.Info().Msgf("Detected GPU: %v", name)
	} else {
		log.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	return g, nil
}

func (g *GPU) Name() string {
	return g.name
}

func (g *GPU) Shutdown() error {
	return g.lib.Shutdown()
}

// GPUUsage returns the busy percentage over NVML's last sample period.
func (g *GPU) GPUUsage(_ context.Context) (float64, error) {
	util, ret := g.device.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrUtilizationReadFailed, newNVMLError(ret))
	}

	return float64(util.Gpu), nil
}

// Temperature returns the core temperature in Celsius.
func (g *GPU) Temperature(_ context.Context) (float64, error) {
	temp, ret := g.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	g.updateTemperatureHistory(Temperature(temp))

	return float64(temp), nil
}

// AverageTemperature returns the mean of the recent Temperature readings.
func (g *GPU) AverageTemperature() Temperature {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.temperatureHistory) == 0 {
		return 0
	}

	var sum Temperature
	for _, t := range g.temperatureHistory {
		sum += t
	}

	return sum / Temperature(len(g.temperatureHistory))
}

func (g *GPU) updateTemperatureHistory(t Temperature) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.temperatureHistory = append(g.temperatureHistory, t)
	if len(g.temperatureHistory) > temperatureWindowSize {
		g.temperatureHistory = g.temperatureHistory[1:]
	}
}

// PowerDraw returns the smoothed board power in watts.
func (g *GPU) PowerDraw(_ context.Context) (float64, error) {
	mw, ret := g.device.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrPowerReadFailed, newNVMLError(ret))
	}

	avg := g.power.Update(milliWatts(mw))
	g.logger.Debug().Float64("watts", float64(avg)).Msg("GPU power draw")

	return float64(avg), nil
}
