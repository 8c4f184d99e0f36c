// Package ziperr defines the failure kinds surfaced by archive operations.
//
// Every failure returned by the dispatcher, synchronously or through a future,
// carries exactly one Kind. Kinds are errors themselves so callers can match
// them with errors.Is:
//
//	if errors.Is(err, ziperr.NotFound) { ... }
package ziperr

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies an archive failure.
type Kind int

const (
	// Unknown is never attached on purpose; KindOf returns it for foreign errors.
	Unknown Kind = iota
	// NotFound means a source or archive path does not exist.
	NotFound
	// IOFailure covers write, copy and delete failures.
	IOFailure
	// FormatFailure means the archive container is corrupt or unrecognized.
	FormatFailure
	// Conflict means a staging directory already exists.
	Conflict
	// EmptyArchive means an archive holds no file entries.
	EmptyArchive
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case IOFailure:
		return "io failure"
	case FormatFailure:
		return "format failure"
	case Conflict:
		return "conflict"
	case EmptyArchive:
		return "empty archive"
	default:
		return "unknown"
	}
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified archive failure.
type Error struct {
	Op   string // Operation, e.g. "create", "extract"
	Path string // Path the operation was acting on, may be empty
	Kind Kind
	Err  error // Underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of this error.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns a classified error.
func New(op, path string, kind Kind, err error) error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// Errorf returns a classified error with a formatted cause.
func Errorf(op, path string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Path: path, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FromFS classifies a filesystem error. Errors that already carry a Kind
// are returned unchanged.
func FromFS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ze *Error
	if errors.As(err, &ze) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return New(op, path, NotFound, err)
	case errors.Is(err, fs.ErrExist):
		return New(op, path, Conflict, err)
	default:
		return New(op, path, IOFailure, err)
	}
}

// KindOf returns the Kind carried by err, or Unknown.
func KindOf(err error) Kind {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}
