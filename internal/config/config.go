// Package config loads framectl settings from a TOML file, FRAMECTL_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/framectl/internal/energy"
	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/metrics"
	"codeberg.org/mutker/framectl/internal/policy"
	"codeberg.org/mutker/framectl/internal/profile"
	"codeberg.org/mutker/framectl/internal/sampler"
	"codeberg.org/mutker/framectl/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultConfigPath = "/etc/framectl.toml"
	DefaultInterval   = time.Second
	DefaultListen     = "127.0.0.1:9477"
	DefaultPIDFile    = "framectl.pid"

	defaultEnvPrefix = "FRAMECTL"
	configEnv        = "FRAMECTL_CONFIG"
)

// Config is the fully resolved configuration.
type Config struct {
	LogLevel string

	// Controller
	Interval           time.Duration
	Mode               policy.Mode
	Profile            profile.Mode
	Complexity         policy.Complexity
	Pacer              bool
	FrameWindow        int
	AdaptationCapacity int
	GPUIndex           int

	// System
	ProcPath string
	SysPath  string
	PIDFile  string

	Policy      policy.Config
	Limits      sampler.TemperatureLimits
	Energy      energy.Config
	Metrics     metrics.Config
	Telemetry   telemetry.Config
	Diagnostics DiagnosticsConfig
}

type DiagnosticsConfig struct {
	Listen string
}

// Load reads the configuration using the process arguments.
func Load(opts ...Option) (*Config, error) {
	return LoadArgs(os.Args[1:], opts...)
}

// LoadArgs reads the configuration using args as command line flags.
func LoadArgs(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, o.configPath); err != nil {
		return nil, err
	}

	return build(v)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("framectl", pflag.ContinueOnError)
	fs.Duration("interval", DefaultInterval, "Interval between policy evaluations")
	fs.Duration("cooldown", policy.DefaultCooldown, "Minimum time between frame rate changes")
	fs.String("mode", string(policy.ModeAutomatic), "Controller mode: automatic or manual")
	fs.String("profile", string(profile.ModeBalanced), "Initial rendering profile preset")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.String("listen", DefaultListen, "Diagnostics listen address, empty to disable")
	fs.Bool("metrics", false, "Enable the SQLite metrics journal")
	fs.String("metrics-db", metrics.DefaultConfig().DBPath, "Path to the metrics database")
	fs.Bool("pacer", false, "Drive frames from the built-in software pacer")
	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"controller.interval": "interval",
		"controller.cooldown": "cooldown",
		"controller.mode":     "mode",
		"controller.profile":  "profile",
		"controller.pacer":    "pacer",
		"log_level":           "log-level",
		"diagnostics.listen":  "listen",
		"metrics.enabled":     "metrics",
		"metrics.database":    "metrics-db",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	th := policy.DefaultThresholds()
	limits := sampler.DefaultTemperatureLimits()
	en := energy.DefaultConfig()
	mc := metrics.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("controller.interval", DefaultInterval)
	v.SetDefault("controller.cooldown", policy.DefaultCooldown)
	v.SetDefault("controller.mode", string(policy.ModeAutomatic))
	v.SetDefault("controller.profile", string(profile.ModeBalanced))
	v.SetDefault("controller.complexity", policy.ComplexityMedium.String())
	v.SetDefault("controller.pacer", false)
	v.SetDefault("controller.min_delta", policy.DefaultMinDelta)
	v.SetDefault("controller.look_ahead", policy.DefaultLookAhead)
	v.SetDefault("controller.supported_rates", policy.DefaultSupportedRates)
	v.SetDefault("controller.frame_window", 300)
	v.SetDefault("controller.history", 100)
	v.SetDefault("controller.gpu_index", 0)

	v.SetDefault("thresholds.cpu_high", th.CPUHigh)
	v.SetDefault("thresholds.gpu_high", th.GPUHigh)
	v.SetDefault("thresholds.memory_high", th.MemoryHigh)
	v.SetDefault("thresholds.drop_rate_high", th.DropRateHigh)
	v.SetDefault("thresholds.cpu_low", th.CPULow)
	v.SetDefault("thresholds.gpu_low", th.GPULow)
	v.SetDefault("thresholds.low_battery", th.LowBattery)
	v.SetDefault("thresholds.thermal_throttle", th.ThermalThrottle.String())
	v.SetDefault("thresholds.high_motion", th.HighMotion)
	v.SetDefault("thresholds.motion_cpu", th.MotionCPU)
	v.SetDefault("thresholds.temp_fair", limits.Fair)
	v.SetDefault("thresholds.temp_serious", limits.Serious)
	v.SetDefault("thresholds.temp_critical", limits.Critical)

	v.SetDefault("energy.pack_voltage", en.PackVoltage)
	v.SetDefault("energy.capacity_mah", en.CapacityMAh)
	v.SetDefault("energy.baseline_watts", en.Baseline)

	v.SetDefault("metrics.enabled", mc.Enabled)
	v.SetDefault("metrics.database", mc.DBPath)
	v.SetDefault("metrics.batch_size", mc.BatchSize)
	v.SetDefault("metrics.batch_timeout", mc.BatchTimeout)

	v.SetDefault("diagnostics.listen", DefaultListen)
	v.SetDefault("diagnostics.namespace", telemetry.DefaultConfig().Namespace)

	v.SetDefault("system.proc", sampler.DefaultProcPath)
	v.SetDefault("system.sys", sampler.DefaultSysPath)
	v.SetDefault("system.pid_file", DefaultPIDFile)
}

func readConfigFile(v *viper.Viper, explicit string) error {
	errFactory := errors.New()

	path := explicit
	if path == "" {
		path = os.Getenv(configEnv)
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("framectl")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func build(v *viper.Viper) (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{
		LogLevel:           strings.ToLower(v.GetString("log_level")),
		Interval:           v.GetDuration("controller.interval"),
		Profile:            profile.Mode(strings.ToLower(v.GetString("controller.profile"))),
		Pacer:              v.GetBool("controller.pacer"),
		FrameWindow:        v.GetInt("controller.frame_window"),
		AdaptationCapacity: v.GetInt("controller.history"),
		GPUIndex:           v.GetInt("controller.gpu_index"),
		ProcPath:           v.GetString("system.proc"),
		SysPath:            v.GetString("system.sys"),
		PIDFile:            v.GetString("system.pid_file"),
		Limits: sampler.TemperatureLimits{
			Fair:     v.GetFloat64("thresholds.temp_fair"),
			Serious:  v.GetFloat64("thresholds.temp_serious"),
			Critical: v.GetFloat64("thresholds.temp_critical"),
		},
		Energy: energy.Config{
			PackVoltage: v.GetFloat64("energy.pack_voltage"),
			CapacityMAh: v.GetFloat64("energy.capacity_mah"),
			Baseline:    v.GetFloat64("energy.baseline_watts"),
		},
		Metrics: metrics.Config{
			DBPath:       v.GetString("metrics.database"),
			Enabled:      v.GetBool("metrics.enabled"),
			BatchSize:    v.GetInt("metrics.batch_size"),
			BatchTimeout: v.GetInt("metrics.batch_timeout"),
		},
		Telemetry: telemetry.Config{
			Namespace: v.GetString("diagnostics.namespace"),
		},
		Diagnostics: DiagnosticsConfig{
			Listen: v.GetString("diagnostics.listen"),
		},
	}

	level, ok := ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, errFactory.WithData(errors.ErrInvalidLogLevel, cfg.LogLevel)
	}
	cfg.LogLevel = string(level)
	if cfg.Interval <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, cfg.Interval.String())
	}

	mode, err := policy.ParseMode(v.GetString("controller.mode"))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	if _, ok := profile.Preset(cfg.Profile); !ok {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value string
		}{
			Field: "controller.profile",
			Value: string(cfg.Profile),
		})
	}

	complexity, err := policy.ParseComplexity(v.GetString("controller.complexity"))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.Complexity = complexity

	throttle, err := sampler.ParseThermalState(v.GetString("thresholds.thermal_throttle"))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	cfg.Policy = policy.Config{
		Thresholds: policy.Thresholds{
			CPUHigh:         v.GetFloat64("thresholds.cpu_high"),
			GPUHigh:         v.GetFloat64("thresholds.gpu_high"),
			MemoryHigh:      v.GetFloat64("thresholds.memory_high"),
			DropRateHigh:    v.GetFloat64("thresholds.drop_rate_high"),
			CPULow:          v.GetFloat64("thresholds.cpu_low"),
			GPULow:          v.GetFloat64("thresholds.gpu_low"),
			LowBattery:      v.GetFloat64("thresholds.low_battery"),
			ThermalThrottle: throttle,
			HighMotion:      v.GetFloat64("thresholds.high_motion"),
			MotionCPU:       v.GetFloat64("thresholds.motion_cpu"),
		},
		Cooldown:       v.GetDuration("controller.cooldown"),
		MinDelta:       v.GetInt("controller.min_delta"),
		LookAhead:      v.GetFloat64("controller.look_ahead"),
		SupportedRates: v.GetIntSlice("controller.supported_rates"),
	}
	if cfg.Policy, err = cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	if cfg.Limits.Fair > cfg.Limits.Serious || cfg.Limits.Serious > cfg.Limits.Critical {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "temperature limits must be ascending")
	}
	if cfg.FrameWindow < 1 || cfg.AdaptationCapacity < 1 {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "history sizes must be positive")
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return cfg, nil
}
