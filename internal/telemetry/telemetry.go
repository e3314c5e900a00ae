// Package telemetry exports controller state as Prometheus metrics on a
// private registry.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	cfg      Config
	registry *prometheus.Registry

	targetRate     prometheus.Gauge
	currentRate    prometheus.Gauge
	dropRate       prometheus.Gauge
	stutterRate    prometheus.Gauge
	cpuUsage       prometheus.Gauge
	gpuUsage       prometheus.Gauge
	memoryPressure prometheus.Gauge
	batteryLevel   prometheus.Gauge
	pluggedIn      prometheus.Gauge
	thermalState   prometheus.Gauge
	complexity     prometheus.Gauge
	automatic      prometheus.Gauge
	lastEvaluation prometheus.Gauge
	evaluations    prometheus.Counter
	adaptations    *prometheus.CounterVec
}

func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	ns := cfg.Namespace

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}

	return &service{
		cfg:            cfg,
		registry:       reg,
		targetRate:     gauge("target_frame_rate_hz", "Frame rate of the active profile"),
		currentRate:    gauge("measured_frame_rate_hz", "Measured average frame rate"),
		dropRate:       gauge("frame_drop_ratio", "Share of dropped frames in the timing window"),
		stutterRate:    gauge("frame_stutter_ratio", "Share of stuttering frames in the timing window"),
		cpuUsage:       gauge("cpu_usage_percent", "System CPU usage"),
		gpuUsage:       gauge("gpu_usage_percent", "GPU usage"),
		memoryPressure: gauge("memory_pressure_ratio", "Memory pressure between 0 and 1"),
		batteryLevel:   gauge("battery_level_ratio", "Battery level between 0 and 1"),
		pluggedIn:      gauge("plugged_in", "Whether external power is connected"),
		thermalState:   gauge("thermal_state", "Thermal state, 0 nominal to 3 critical"),
		complexity:     gauge("content_complexity", "Content complexity, 0 minimal to 4 extreme"),
		automatic:      gauge("automatic_mode", "Whether the controller adapts on its own"),
		lastEvaluation: gauge("last_evaluation_timestamp_seconds", "Unix time of the last evaluation"),
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "evaluations_total",
			Help:      "Total number of policy evaluations",
		}),
		adaptations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "adaptations_total",
			Help:      "Total number of committed frame rate changes",
		}, []string{"direction"}),
	}, nil
}

func (s *service) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidMetrics)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	m := snapshot.Metrics
	s.targetRate.Set(float64(m.TargetRate))
	s.currentRate.Set(m.CurrentRate)
	s.dropRate.Set(m.FrameDropRate)
	s.stutterRate.Set(snapshot.StutterRate)
	s.cpuUsage.Set(m.CPUUsage)
	s.gpuUsage.Set(m.GPUUsage)
	s.memoryPressure.Set(m.MemoryPressure)
	s.batteryLevel.Set(m.BatteryLevel)
	s.pluggedIn.Set(boolToFloat(m.PluggedIn))
	s.thermalState.Set(float64(m.ThermalState))
	s.complexity.Set(float64(m.ContentComplexity))
	s.automatic.Set(boolToFloat(snapshot.Automatic))

	ts := snapshot.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.lastEvaluation.Set(float64(ts.UnixNano()) / float64(time.Second))
	s.evaluations.Inc()

	return nil
}

func (s *service) RecordAdaptation(event adaptation.Event) {
	s.adaptations.WithLabelValues(event.Direction()).Inc()
}

// Handler serves the private registry in the Prometheus text format.
func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Close is a no-op; the registry lives as long as the process.
func (*service) Close() error {
	return nil
}
