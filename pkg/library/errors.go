package library

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the library service.
var (
	ErrBookNotFound         = errors.New("book not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrBorrowNotFound       = errors.New("borrow not found")
	ErrSaleNotFound         = errors.New("sale not found")
	ErrBookUnavailable      = errors.New("book not available")
	ErrBorrowPending        = errors.New("borrow request already pending")
	ErrInvalidBorrowState   = errors.New("invalid borrow state")
	ErrNotBorrowOwner       = errors.New("borrow belongs to another user")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUsernameTaken        = errors.New("username already exists")
	ErrSelfEdit             = errors.New("cannot edit own account")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrPaymentUpstream      = errors.New("payment provider request failed")
	ErrInvalidBookID        = errors.New("invalid book id")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidBorrowID      = errors.New("invalid borrow id")
	ErrInvalidSaleID        = errors.New("invalid sale id")
	ErrInvalidPriceCents    = errors.New("invalid price cents")
	ErrInvalidStock         = errors.New("invalid stock count")
	ErrInvalidRole          = errors.New("invalid role")
	ErrInvalidBorrowStatus  = errors.New("invalid borrow status")
	ErrInvalidSaleStatus    = errors.New("invalid sale status")
	ErrInvalidPhoneNumber   = errors.New("invalid phone number")
	ErrInvalidReturnDate    = errors.New("invalid return date")
	ErrInvalidReleaseDate   = errors.New("invalid release date")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrInvalidBookField     = errors.New("invalid book field")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
