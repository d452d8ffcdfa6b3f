package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrGateway    = errors.New("payment gateway error")
	ErrIntegrity  = errors.New("data integrity error")
	ErrStore      = errors.New("store error")

	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrTransactionExists   = errors.New("transaction already exists")
	ErrOrderIDConflict     = errors.New("order id already in use")
)

// GatewayError carries the upstream message of a failed gateway call.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed (http %d): %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Op, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// ValidationError names the offending field of a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindGateway    ErrorKind = "gateway"
	KindIntegrity  ErrorKind = "integrity"
	KindStore      ErrorKind = "store"
	KindInternal   ErrorKind = "internal"
)

// Kind classifies err for callers. Unclassified errors are internal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrGateway):
		return KindGateway
	case errors.Is(err, ErrStore):
		return KindStore
	}
	return KindInternal
}
