package booking

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed client input. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Party names the side of a booking whose calendar clashes.
type Party string

const (
	PartyMentor Party = "mentor"
	PartyUser   Party = "user"
)

type ConflictError struct {
	Party Party
	Day   string
	Time  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already has a session on %s at %s", e.Party, e.Day, e.Time)
}

// ExternalServiceError wraps a failure of the payment gateway or another
// remote collaborator. Unknown is set when the call timed out and its outcome
// cannot be known; such calls must not be retried blindly.
type ExternalServiceError struct {
	Service string
	Op      string
	Unknown bool
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("%s: %s: outcome unknown: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ReconciliationError means money moved at the gateway but the matching
// booking write failed. An operator has to settle it by hand.
type ReconciliationError struct {
	PaymentIntentID string
	RefundID        string
	RequestID       string
	CollaborationID string
	Err             error
}

func (e *ReconciliationError) Error() string {
	if e.RefundID != "" {
		return fmt.Sprintf("refund %s issued for collaboration %s but cancellation was not persisted: %v",
			e.RefundID, e.CollaborationID, e.Err)
	}
	return fmt.Sprintf("payment %s succeeded but booking for request %s was not persisted: %v",
		e.PaymentIntentID, e.RequestID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

var (
	ErrForbidden           = errors.New("not allowed")
	ErrInvalidTransition   = errors.New("mentor request is no longer pending")
	ErrNotAccepted         = errors.New("mentor request has not been accepted")
	ErrDuplicateRequest    = errors.New("a pending request for this slot already exists")
	ErrAlreadyCancelled    = errors.New("collaboration is already cancelled")
	ErrNotPaid             = errors.New("collaboration has not been paid")
	ErrCollaborationClosed = errors.New("collaboration is no longer active")
	ErrAlreadyDecided      = errors.New("request has already been decided")
	ErrFeedbackGiven       = errors.New("feedback has already been given")
	ErrBusy                = errors.New("another operation is in progress, retry shortly")
)
