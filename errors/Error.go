// Package errors provides the typed errors used throughout blockscan.
// Every error carries an ERR code so callers can branch on the kind of
// failure (reorg vs corrupt file vs storage) without string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ERR identifies the kind of an Error.
type ERR int

const (
	ErrUnknown ERR = iota
	ErrInvalidArgument
	ErrConfiguration
	ErrProcessing
	ErrStorage
	ErrService
	ErrBlockNotFound
	ErrCorruptBlockFile
	ErrUTXOMiss
	ErrReorg
)

var errNames = map[ERR]string{
	ErrUnknown:          "UNKNOWN",
	ErrInvalidArgument:  "INVALID_ARGUMENT",
	ErrConfiguration:    "CONFIGURATION",
	ErrProcessing:       "PROCESSING",
	ErrStorage:          "STORAGE",
	ErrService:          "SERVICE",
	ErrBlockNotFound:    "BLOCK_NOT_FOUND",
	ErrCorruptBlockFile: "CORRUPT_BLOCK_FILE",
	ErrUTXOMiss:         "UTXO_MISS",
	ErrReorg:            "REORG",
}

func (e ERR) String() string {
	if name, ok := errNames[e]; ok {
		return name
	}

	return fmt.Sprintf("ERR(%d)", int(e))
}

type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

// New creates an Error with the given code. If the last param is an error it
// becomes the wrapped cause, the remaining params are fmt args for message.
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wrapped = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: wrapped,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("%s (%d): %s", e.code, e.code, e.message)
	}

	return fmt.Sprintf("%s (%d): %s: %v", e.code, e.code, e.message, e.wrappedErr)
}

func (e *Error) Code() ERR {
	return e.code
}

func (e *Error) Message() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target has the same code, unwrapping as needed.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	targetErr, ok := target.(*Error)
	if !ok {
		return strings.Contains(e.Error(), target.Error())
	}

	if e.code == targetErr.code {
		return true
	}

	if e.wrappedErr == nil {
		return false
	}

	var wrapped *Error
	if errors.As(e.wrappedErr, &wrapped) {
		return wrapped.Is(target)
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}

	if e.wrappedErr != nil {
		return errors.As(e.wrappedErr, target)
	}

	return false
}

// Is delegates to the standard library so callers do not need two imports.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}
