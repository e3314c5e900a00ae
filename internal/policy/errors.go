package policy

import "codeberg.org/mutker/framectl/internal/errors"

const (
	ErrInvalidComplexity = errors.ErrorCode("invalid_complexity")
	ErrInvalidThreshold  = errors.ErrorCode("invalid_threshold")
)
