package lab

import "github.com/pkg/errors"

// Category errors for the HTTP-visible failure modes of lab creation and
// deletion. These are sentinel-wrapped types inspected with errors.As
// rather than string matching.

// AlreadyExists is returned when a record already exists for the user.
type AlreadyExists struct{ Username string }

func (e AlreadyExists) Error() string { return "lab already exists for user: " + e.Username }

// NotFound is returned for get/delete against an absent user.
type NotFound struct{ Username string }

func (e NotFound) Error() string { return "no lab for user: " + e.Username }

// Forbidden is returned on scope or username mismatch.
type Forbidden struct{ Reason string }

func (e Forbidden) Error() string { return "forbidden: " + e.Reason }

// NamespaceCollision is returned when namespace creation exhausts its
// retry budget.
type NamespaceCollision struct {
	Username string
	Attempts int
}

func (e NamespaceCollision) Error() string {
	return errors.Errorf("namespace collision for user %s after %d attempts", e.Username, e.Attempts).Error()
}

// ConfigError marks a boot-time configuration validation failure.
type ConfigError struct{ Reason string }

func (e ConfigError) Error() string { return "configuration error: " + e.Reason }

// IsTransient reports whether err looks like a transient cluster failure
// (timeout, 5xx) worth surfacing as a failed-but-retryable create, as
// opposed to a permanent category error.
func IsTransient(err error) bool {
	switch err.(type) {
	case AlreadyExists, NotFound, Forbidden, NamespaceCollision, ConfigError:
		return false
	default:
		return err != nil
	}
}
