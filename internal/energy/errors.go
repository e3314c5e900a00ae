package energy

import "codeberg.org/mutker/framectl/internal/errors"

const (
	ErrMeasurementActive = errors.ErrorCode("energy_measurement_active")
	ErrInvalidBaseline   = errors.ErrorCode("energy_invalid_baseline")
)
