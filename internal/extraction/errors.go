package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the extraction service.
type Kind int

const (
	// KindTransient covers network and service errors; callers may retry.
	KindTransient Kind = iota
	// KindCreditLimit means the account ran out of credits. Never retried.
	KindCreditLimit
	// KindInvalidInput means the request itself was rejected (missing file, bad payload).
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindCreditLimit:
		return "credit_limit"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "transient"
	}
}

// ErrCreditLimitExceeded is matched by every credit limit Error via errors.Is.
var ErrCreditLimitExceeded = errors.New("credit limit exceeded")

// Error is returned by Client for any unsuccessful call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCreditLimitExceeded) match credit limit errors.
func (e *Error) Is(target error) bool {
	return target == ErrCreditLimitExceeded && e.Kind == KindCreditLimit
}

// IsCreditLimit reports whether err signals an exhausted credit balance.
func IsCreditLimit(err error) bool {
	return errors.Is(err, ErrCreditLimitExceeded)
}

// KindOf returns the Kind of err; errors not produced by this package are transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}
