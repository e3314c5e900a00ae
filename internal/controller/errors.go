package controller

import "codeberg.org/mutker/framectl/internal/errors"

const (
	ErrUnknownProfile = errors.ErrorCode("unknown_profile")
	ErrNotRunning     = errors.ErrorCode("controller_not_running")
	ErrExportFailed   = errors.ErrorCode("diagnostics_export_failed")
)
