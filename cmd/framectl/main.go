package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/config"
	"codeberg.org/mutker/framectl/internal/controller"
	"codeberg.org/mutker/framectl/internal/diagnostics"
	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/gpu"
	"codeberg.org/mutker/framectl/internal/logger"
	"codeberg.org/mutker/framectl/internal/metrics"
	"codeberg.org/mutker/framectl/internal/pacer"
	"codeberg.org/mutker/framectl/internal/pid"
	"codeberg.org/mutker/framectl/internal/policy"
	"codeberg.org/mutker/framectl/internal/profile"
	"codeberg.org/mutker/framectl/internal/sampler"
	"codeberg.org/mutker/framectl/internal/telemetry"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	pidFile := pid.Path(cfg.PIDFile)
	if err := pid.Write(pidFile); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(pidFile); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cfg); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("error in main loop")
		} else {
			logger.Error().Err(err).Msg("error in main loop")
		}
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()

	var extra []sampler.TemperatureReader
	dev, gpuErr := gpu.New(cfg.GPUIndex, logger.Component("gpu"))
	if gpuErr != nil {
		logger.Warn().Err(gpuErr).Msg("GPU unavailable, sampling without NVML")
	} else {
		defer func() {
			if err := dev.Shutdown(); err != nil {
				logger.Error().Err(err).Msg("failed to shut down NVML")
			}
		}()
		logger.Info().Str("gpu", dev.Name()).Msg("GPU initialized")
		extra = append(extra, dev)
	}

	sources := sampler.LinuxSources(cfg.ProcPath, cfg.SysPath, cfg.Limits, extra...)
	if dev != nil {
		sources.GPU = dev
		sources.Power = sampler.WithDrawFallback(sources.Power, dev)
	}
	smp := sampler.New(sources, sampler.WithLogger(logger.Component("sampler")))

	start, ok := profile.Preset(cfg.Profile)
	if !ok {
		return errFactory.WithData(errors.ErrInvalidConfig, string(cfg.Profile))
	}

	ctrl, err := controller.New(controller.Config{
		Policy:             cfg.Policy,
		Energy:             cfg.Energy,
		Mode:               cfg.Mode,
		Profile:            start,
		Complexity:         cfg.Complexity,
		Interval:           cfg.Interval,
		FrameWindow:        cfg.FrameWindow,
		AdaptationCapacity: cfg.AdaptationCapacity,
	}, smp)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	collector, err := telemetry.NewService(cfg.Telemetry)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer collector.Close()

	journal, err := metrics.NewService(cfg.Metrics, logger.Component("metrics"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close metrics journal")
		}
	}()

	wire(ctx, ctrl, collector, journal)

	if cfg.Diagnostics.Listen != "" {
		srv := diagnostics.New(cfg.Diagnostics.Listen, ctrl, collector.Handler(), journal)
		defer ctrl.Subscribe(srv.Events().PublishAdaptation)()
		defer ctrl.SubscribeMetrics(srv.Events().PublishMetrics)()

		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("failed to stop diagnostics server")
			}
		}()
	}

	if err := ctrl.Start(ctx); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	if cfg.Pacer {
		logger.Info().Msg("Pacer enabled, driving frames at the active profile rate")
		go pacer.New(ctrl, ctrl, nil).Run(ctx)
	}

	<-ctx.Done()

	if err := ctrl.Stop(); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

// wire forwards every evaluation to telemetry and the journal.
func wire(ctx context.Context, ctrl *controller.Controller, collector telemetry.Collector, journal metrics.MetricsCollector) {
	ctrl.SubscribeMetrics(func(m policy.FrameRateMetrics) {
		now := time.Now()
		automatic := ctrl.Mode() == policy.ModeAutomatic

		if err := collector.Record(ctx, &telemetry.Snapshot{
			Timestamp:   now,
			Metrics:     m,
			StutterRate: ctrl.FrameStats().StutterRate,
			Automatic:   automatic,
		}); err != nil {
			logger.Debug().Err(err).Msg("failed to record telemetry")
		}

		if err := journal.Record(ctx, metrics.SnapshotFrom(m, automatic, now)); err != nil {
			logger.Debug().Err(err).Msg("failed to journal evaluation")
		}

		logger.Debug().
			Float64("current_rate", m.CurrentRate).
			Int("target_rate", m.TargetRate).
			Float64("cpu", m.CPUUsage).
			Float64("gpu", m.GPUUsage).
			Str("thermal", m.ThermalState.String()).
			Float64("battery", m.BatteryLevel).
			Bool("plugged_in", m.PluggedIn).
			Str("reason", m.Reason).
			Msg("")
	})

	ctrl.Subscribe(func(e adaptation.Event) {
		collector.RecordAdaptation(e)
		if err := journal.RecordAdaptation(ctx, metrics.AdaptationFrom(e)); err != nil {
			logger.Warn().Err(err).Msg("failed to journal adaptation")
		}
	})
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
