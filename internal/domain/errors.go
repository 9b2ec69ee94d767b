package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a report id does not exist.
var ErrNotFound = errors.New("not found")

// ErrStorage marks data-layer failures. Callers surface it as a generic failure.
var ErrStorage = errors.New("storage failure")

// Field names a user-supplied input.
type Field string

const (
	FieldImage    Field = "image"
	FieldLocation Field = "location"
	FieldSeverity Field = "severity"
	FieldStatus   Field = "status"
	FieldContact  Field = "contact"
	FieldSender   Field = "sender"
	FieldMessage  Field = "message_id"
	FieldAddress  Field = "address"
	FieldName     Field = "reporter_name"
	FieldNotes    Field = "notes"
)

// ValidationError describes a missing or malformed input. It is returned before
// any state is mutated.
type ValidationError struct {
	Field   Field
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DependencyError wraps a failure of an external collaborator (detector,
// media host, geocoder). It is recoverable: the submitter may retry.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// StorageError wraps a data-layer error so that errors.Is(err, ErrStorage) holds.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDependency reports whether err is (or wraps) a *DependencyError.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
