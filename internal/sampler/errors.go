package sampler

import "codeberg.org/mutker/framectl/internal/errors"

const (
	ErrSourceUnavailable = errors.ErrorCode("sampler_source_unavailable")
	ErrSourceTimeout     = errors.ErrorCode("sampler_source_timeout")
	ErrSourcePanic       = errors.ErrorCode("sampler_source_panic")
	ErrParse             = errors.ErrorCode("sampler_parse_failed")
)

var errNoReaders = errors.New().WithMessage(ErrSourceUnavailable, "no temperature reader available")
