package model

import "errors"

// Error kinds shared by storage, ingestion and the HTTP layer. Callers match
// them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
	ErrFetch      = errors.New("fetch failed")
	ErrParse      = errors.New("parse failed")
	ErrReconcile  = errors.New("reconcile failed")
)
