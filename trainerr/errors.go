// Package trainerr defines the error taxonomy shared by the training packages.
//
// Two categories are fatal by construction: configuration errors, raised at
// startup before any batch is processed, and data shape errors, which indicate
// a logic defect and abort the run. Both carry a stack trace so the top-level
// "%+v" log line points at the origin.
package trainerr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Category classifies errors for consistent handling.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryDataShape     Category = "data_shape"
)

// Error is a categorized training error.
type Error struct {
	Category Category
	Field    string // offending setting or tensor, may be empty
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	prefix := string(e.Category)
	if e.Field != "" {
		prefix = fmt.Sprintf("%s(%s)", prefix, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Configuration returns a ConfigurationError for field.
func Configuration(field, format string, args ...interface{}) error {
	return errors.WithStack(&Error{
		Category: CategoryConfiguration,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

// WrapConfiguration returns a ConfigurationError caused by err.
func WrapConfiguration(err error, field, format string, args ...interface{}) error {
	return errors.WithStack(&Error{
		Category: CategoryConfiguration,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Cause:    err,
	})
}

// DataShape returns a DataShapeError for field.
func DataShape(field, format string, args ...interface{}) error {
	return errors.WithStack(&Error{
		Category: CategoryDataShape,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

// CategoryOf returns the category of the first *Error in err's chain.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryConfiguration
}

// IsDataShape reports whether err is a DataShapeError.
func IsDataShape(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryDataShape
}
