package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrClientNotFound    = errors.New("client not found")
	ErrDuplicate         = errors.New("duplicate invoice number")
	ErrSourceUnavailable = errors.New("source file unavailable")
)
