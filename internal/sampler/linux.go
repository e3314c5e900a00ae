package sampler

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/errors"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
)

const (
	DefaultProcPath = procfs.DefaultMountPoint
	DefaultSysPath  = sysfs.DefaultMountPoint

	microToBase = 1e-6
)

// ProcCPU derives CPU usage from successive /proc/stat totals. The first
// reading reports the average since boot.
type ProcCPU struct {
	fs        procfs.FS
	mu        sync.Mutex
	prevTotal float64
	prevIdle  float64
}

func NewProcCPU(procPath string) (*ProcCPU, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, errors.New().Wrap(ErrSourceUnavailable, err)
	}

	return &ProcCPU{fs: fs}, nil
}

func (c *ProcCPU) CPUUsage(_ context.Context) (float64, error) {
	stat, err := c.fs.Stat()
	if err != nil {
		return 0, errors.New().Wrap(ErrParse, err)
	}

	cpu := stat.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	total := cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.Iowait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal

	c.mu.Lock()
	defer c.mu.Unlock()

	dTotal := total - c.prevTotal
	dIdle := idle - c.prevIdle
	c.prevTotal = total
	c.prevIdle = idle

	if dTotal <= 0 {
		return 0, nil
	}

	return (dTotal - dIdle) / dTotal * 100, nil
}

// ProcMemory reports 1 - MemAvailable/MemTotal.
type ProcMemory struct {
	fs procfs.FS
}

func NewProcMemory(procPath string) (*ProcMemory, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, errors.New().Wrap(ErrSourceUnavailable, err)
	}

	return &ProcMemory{fs: fs}, nil
}

func (m *ProcMemory) MemoryPressure(_ context.Context) (float64, error) {
	info, err := m.fs.Meminfo()
	if err != nil {
		return 0, errors.New().Wrap(ErrParse, err)
	}
	if info.MemTotal == nil || info.MemAvailable == nil || *info.MemTotal == 0 {
		return 0, errors.New().WithMessage(ErrParse, "meminfo lacks MemTotal or MemAvailable")
	}

	return 1 - float64(*info.MemAvailable)/float64(*info.MemTotal), nil
}

// ThermalZones reads the hottest /sys/class/thermal zone in Celsius.
type ThermalZones struct {
	fs sysfs.FS
}

func NewThermalZones(sysPath string) (*ThermalZones, error) {
	fs, err := sysfs.NewFS(sysPath)
	if err != nil {
		return nil, errors.New().Wrap(ErrSourceUnavailable, err)
	}

	return &ThermalZones{fs: fs}, nil
}

func (z *ThermalZones) Temperature(_ context.Context) (float64, error) {
	zones, err := z.fs.ClassThermalZoneStats()
	if err != nil {
		return 0, errors.New().Wrap(ErrSourceUnavailable, err)
	}
	if len(zones) == 0 {
		return 0, errors.New().WithMessage(ErrSourceUnavailable, "no thermal zones")
	}

	hottest := zones[0].Temp
	for _, zone := range zones[1:] {
		if zone.Temp > hottest {
			hottest = zone.Temp
		}
	}

	return float64(hottest) / 1000, nil
}

// PowerSupplies reads batteries and mains adapters from
// /sys/class/power_supply.
type PowerSupplies struct {
	fs sysfs.FS
}

func NewPowerSupplies(sysPath string) (*PowerSupplies, error) {
	fs, err := sysfs.NewFS(sysPath)
	if err != nil {
		return nil, errors.New().Wrap(ErrSourceUnavailable, err)
	}

	return &PowerSupplies{fs: fs}, nil
}

func (p *PowerSupplies) PowerState(_ context.Context) (PowerState, error) {
	class, err := p.fs.PowerSupplyClass()
	if err != nil {
		return DefaultPowerState(), errors.New().Wrap(ErrSourceUnavailable, err)
	}

	state := DefaultPowerState()
	var (
		batteries   int
		capacity    float64
		drawWatts   float64
		energyWh    float64
		mainsOnline bool
		discharging bool
	)

	for _, ps := range class {
		switch strings.ToLower(ps.Type) {
		case "mains", "usb", "usb_c", "usb_pd":
			if ps.Online != nil && *ps.Online == 1 {
				mainsOnline = true
			}
		case "battery":
			batteries++
			if ps.Capacity != nil {
				capacity += float64(*ps.Capacity) / 100
			}
			if strings.EqualFold(ps.Status, "Discharging") {
				discharging = true
			}
			drawWatts += batteryDraw(ps)
			energyWh += batteryEnergy(ps)
		}
	}

	if batteries == 0 {
		return state, nil
	}

	state.BatteryLevel = capacity / float64(batteries)
	state.PluggedIn = mainsOnline || !discharging
	state.PowerDrawWatts = drawWatts
	if !state.PluggedIn && drawWatts > 0 && energyWh > 0 {
		state.TimeRemaining = time.Duration(energyWh / drawWatts * float64(time.Hour))
	}

	return state, nil
}

func batteryDraw(ps sysfs.PowerSupply) float64 {
	switch {
	case ps.PowerNow != nil:
		return abs(float64(*ps.PowerNow)) * microToBase
	case ps.CurrentNow != nil && ps.VoltageNow != nil:
		return abs(float64(*ps.CurrentNow)*microToBase) * float64(*ps.VoltageNow) * microToBase
	default:
		return 0
	}
}

func batteryEnergy(ps sysfs.PowerSupply) float64 {
	switch {
	case ps.EnergyNow != nil:
		return float64(*ps.EnergyNow) * microToBase
	case ps.ChargeNow != nil && ps.VoltageNow != nil:
		return float64(*ps.ChargeNow) * microToBase * float64(*ps.VoltageNow) * microToBase
	default:
		return 0
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}

// LinuxSources wires the procfs and sysfs readers. Primitives that cannot be
// opened are left nil so the sampler falls back to defaults; extra
// temperature readers (such as the GPU) are folded into the thermal state.
func LinuxSources(procPath, sysPath string, limits TemperatureLimits, extra ...TemperatureReader) Sources {
	var src Sources

	if cpu, err := NewProcCPU(procPath); err == nil {
		src.CPU = cpu
	}
	if mem, err := NewProcMemory(procPath); err == nil {
		src.Memory = mem
	}

	readers := append([]TemperatureReader{}, extra...)
	if zones, err := NewThermalZones(sysPath); err == nil {
		readers = append(readers, zones)
	}
	if len(readers) > 0 {
		src.Thermal = ThermalFromTemperatures(limits, readers...)
	}

	if power, err := NewPowerSupplies(sysPath); err == nil {
		src.Power = power
	}

	return src
}
