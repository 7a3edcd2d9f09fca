package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotConfigured = errors.New("service dependency not configured")
	ErrUnknownJob    = errors.New("unknown job kind")
)
