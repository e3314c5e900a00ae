package diagnostics

import "codeberg.org/mutker/framectl/internal/errors"

const (
	ErrListenFailed   = errors.ErrorCode("diagnostics_listen_failed")
	ErrAlreadyStarted = errors.ErrorCode("diagnostics_already_started")
	ErrBadRequest     = errors.ErrorCode("diagnostics_bad_request")
)
