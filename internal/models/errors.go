package models

import (
	"errors"
	"fmt"
)

// Configuration and lifecycle errors surfaced to requesters.
var (
	ErrAlreadyActive             = errors.New("an intake session is already active for this requester")
	ErrIntegrationNotConfigured  = errors.New("integration not configured")
	ErrNoSession                 = errors.New("no active session")
	ErrChannelNameTaken          = errors.New("channel name already taken")
	ErrChannelCreationRestricted = errors.New("channel creation restricted")
	ErrAlreadyInChannel          = errors.New("user already in channel")
)

// IntegrationKind categorizes failures reported by external services.
type IntegrationKind string

const (
	KindNotFound     IntegrationKind = "not_found"
	KindAccessDenied IntegrationKind = "access_denied"
	KindOther        IntegrationKind = "other"
)

// IntegrationError wraps a failed call to the record store or folder
// provisioner with a category the requester-facing message is chosen from.
type IntegrationError struct {
	Op   string
	Kind IntegrationKind
	Err  error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

// NewIntegrationError builds an IntegrationError, defaulting the kind.
func NewIntegrationError(op string, kind IntegrationKind, err error) *IntegrationError {
	if kind == "" {
		kind = KindOther
	}
	return &IntegrationError{Op: op, Kind: kind, Err: err}
}

// IntegrationKindOf returns the category of err, or KindOther.
func IntegrationKindOf(err error) IntegrationKind {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindOther
}

// ValidationError reports answers that are individually valid but violate a
// cross-field constraint, such as an end date before the start date.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}
