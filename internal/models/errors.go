// internal/models/errors.go
package models

import "github.com/zeebo/errs"

var (
	// ErrUnavailable marks transient store failures worth retrying.
	ErrUnavailable = errs.Class("store unavailable")
	// ErrNotFound is returned for missing records and objects.
	ErrNotFound = errs.Class("not found")
	// ErrConflict is returned when a record exists with different content.
	ErrConflict = errs.Class("conflict")
	// ErrInvalidSubmission is returned for malformed submissions.
	ErrInvalidSubmission = errs.Class("invalid submission")
)
