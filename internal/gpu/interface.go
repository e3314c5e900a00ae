package gpu

import (
	"context"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Reader exposes the GPU signals the sampler consumes. *GPU satisfies
// sampler.GPUSource and sampler.TemperatureReader.
type Reader interface {
	GPUUsage(ctx context.Context) (float64, error)
	Temperature(ctx context.Context) (float64, error)
	PowerDraw(ctx context.Context) (float64, error)
	Name() string
	Shutdown() error
}

// device is the subset of nvml.Device used here; tests substitute a fake.
type device interface {
	GetName() (string, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
}

// Domain types for readings
type (
	Temperature int
	Watts       float64
)
