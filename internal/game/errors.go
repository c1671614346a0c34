package game

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionClosed   = errors.New("session closed")
)

// Kind classifies why an action was rejected. Every kind is recoverable by re-reading the session.
type Kind string

const (
	KindPhaseMismatch    Kind = "phase_mismatch"
	KindNotAuthorized    Kind = "not_authorized"
	KindAlreadyActed     Kind = "already_acted"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindNotFound         Kind = "not_found"
	KindInvalidArgument  Kind = "invalid_argument"
)

// Rejection is returned by every controller action whose preconditions do not hold.
type Rejection struct {
	Kind   Kind
	Reason string
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

// Is matches any other Rejection of the same kind, so errors.Is(err, ErrAlreadyActed) works.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	if !ok {
		return false
	}
	return t.Kind == r.Kind
}

var (
	ErrPhaseMismatch    = &Rejection{Kind: KindPhaseMismatch}
	ErrNotAuthorized    = &Rejection{Kind: KindNotAuthorized}
	ErrAlreadyActed     = &Rejection{Kind: KindAlreadyActed}
	ErrCapacityExceeded = &Rejection{Kind: KindCapacityExceeded}
	ErrNotFound         = &Rejection{Kind: KindNotFound}
	ErrInvalidArgument  = &Rejection{Kind: KindInvalidArgument}
)

func reject(kind Kind, format string, args ...any) error {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf reports the rejection kind of err, or "" when err is not a rejection.
func KindOf(err error) Kind {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind
	}
	return ""
}
