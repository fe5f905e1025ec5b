// Package imager builds bootable exFAT and FAT12/16/32 disk images from a boot
// sector template and a directory tree.
//
// This package only holds the error kinds shared by all the file system
// packages. See the builder package for the entry point.
package imager

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type ImagerError interface {
	error
	WithMessage(message string) ImagerError
	Wrap(err error) ImagerError
}

type baseImagerError string

// ErrIdentification is returned when a boot sector is too short or carries none
// of the recognized file system signatures.
const ErrIdentification = baseImagerError("Can't identify file system")

// ErrDirectoryEntryDecode is returned when a directory entry contains a value
// outside of the domain its field allows, e.g. an unknown type code.
const ErrDirectoryEntryDecode = baseImagerError("Invalid directory entry")

// ErrUnsupportedFileSystem is returned when an operation is requested for a
// file system generation that doesn't implement it.
const ErrUnsupportedFileSystem = baseImagerError("Unsupported file system")

// ErrIO wraps failures of the underlying storage. It's never used for format
// errors.
const ErrIO = baseImagerError("Input/output error")

const ErrExists = baseImagerError("File exists")
const ErrFileSystemCorrupted = baseImagerError("Structure needs cleaning")
const ErrInvalidArgument = baseImagerError("Invalid argument")
const ErrNameTooLong = baseImagerError("File name too long")
const ErrNoSpaceOnDevice = baseImagerError("No space left on device")
const ErrNotADirectory = baseImagerError("Not a directory")

func (e baseImagerError) Error() string {
	return string(e)
}

func (e baseImagerError) WithMessage(message string) ImagerError {
	return customImagerError{
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e baseImagerError) Wrap(err error) ImagerError {
	return customImagerError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customImagerError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customImagerError) Error() string {
	return e.message
}

func (e customImagerError) WithMessage(message string) ImagerError {
	return customImagerError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customImagerError) Wrap(err error) ImagerError {
	return customImagerError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customImagerError) Unwrap() error {
	return e.originalError
}

// -----------------------------------------------------------------------------

// FieldError reports a single field of an on-disk structure that holds a value
// its decoder doesn't accept. Kind is one of the error kinds above, so callers
// can still use errors.Is(err, ErrDirectoryEntryDecode) and the like.
type FieldError struct {
	Kind   error
	Record string
	Field  string
	Value  uint64
}

// NewFieldError creates a FieldError for `record.field` holding `value`.
func NewFieldError(kind error, record, field string, value uint64) *FieldError {
	return &FieldError{
		Kind:   kind,
		Record: record,
		Field:  field,
		Value:  value,
	}
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s.%s has invalid value %#x", e.Kind.Error(), e.Record, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}
