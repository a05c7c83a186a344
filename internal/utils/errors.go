package utils

import "fmt"

// Kind classifies an AppError for transport mapping.
type Kind int

const (
	// KindInternal marks dependency or infrastructure failures.
	KindInternal Kind = iota
	// KindValidation marks rejected caller input.
	KindValidation
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Msg  string
	Kind Kind
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError. A nil underlying error marks it as a
// validation failure.
func NewAppError(op, msg string, err error) error {
	kind := KindInternal
	if err == nil {
		kind = KindValidation
	}
	return &AppError{Op: op, Msg: msg, Kind: kind, Err: err}
}

// IsValidation reports whether err is a validation-kind AppError.
func IsValidation(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Kind == KindValidation
}
