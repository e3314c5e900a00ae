package config

import (
	"fmt"
	"strings"
)

// Option adjusts where Load looks for settings.
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile reads path instead of $FRAMECTL_CONFIG or the file in
// /etc. Unlike the default location, a missing explicit file is an error.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("empty config file path")
		}
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix replaces the FRAMECTL environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		prefix = strings.ToUpper(strings.TrimSuffix(prefix, "_"))
		if prefix == "" {
			return fmt.Errorf("empty environment prefix")
		}
		o.envPrefix = prefix
		return nil
	}
}

type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// ParseLogLevel accepts the level names and "warn".
func ParseLogLevel(name string) (LogLevel, bool) {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(name))); l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return l, true
	case "warn":
		return LogLevelWarning, true
	default:
		return "", false
	}
}
