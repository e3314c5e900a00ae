package telemetry

import (
	"regexp"

	"codeberg.org/mutker/framectl/internal/errors"
)

const defaultNamespace = "framectl"

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Namespace: defaultNamespace,
	}
}

func (c Config) Validate() error {
	if !namespacePattern.MatchString(c.Namespace) {
		return errors.New().WithData(ErrInvalidNamespace, c.Namespace)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
