package telemetry

import "codeberg.org/mutker/framectl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig    = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidNamespace = errors.ErrorCode("telemetry_invalid_namespace")

	// Collection Errors
	ErrInvalidMetrics = errors.ErrorCode("telemetry_invalid_metrics")

	// Operation Errors
	ErrOperationTimeout = errors.ErrorCode("telemetry_operation_timeout")
)
