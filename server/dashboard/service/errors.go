package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrSessionClosed = errors.New("session closed")
)

// ValidationError is a user-facing rejection raised before any store call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type TransferErrorKind string

const (
	KindValidation         TransferErrorKind = "validation"
	KindPersistenceFailure TransferErrorKind = "persistence_failure"
	KindUnknown            TransferErrorKind = "unknown"
)

// TransferError carries the failure kind and, for store failures, the
// server's error text unchanged.
type TransferError struct {
	Kind    TransferErrorKind
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	return e.Message
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func (e *TransferError) Is(target error) bool {
	return target == ErrValidation && e.Kind == KindValidation
}

// ToastMessage turns an operation error into the text shown to the operator.
func ToastMessage(err error) string {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Message
	}
	return err.Error()
}

// OperationError is a store failure. Message is the server's text unchanged.
type OperationError struct {
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
