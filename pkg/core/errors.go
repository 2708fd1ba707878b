package core

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Kind classifies a failure of an archive or transfer operation.
type Kind int

const (
	KindUnknown Kind = iota
	NotFound
	AccessDenied
	IoError
	CorruptArchive
	ConnectionError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AccessDenied:
		return "access denied"
	case IoError:
		return "i/o error"
	case CorruptArchive:
		return "corrupt archive"
	case ConnectionError:
		return "connection error"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by every operation in this module.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "read", "open", "dial"
	Path string // file path or network address, may be empty
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", msg, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", msg, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause makes Error play well with errors.Cause.
func (e *Error) Cause() error { return e.Err }

// KindOf returns the Kind of the first *Error found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// fsError maps a filesystem error onto the taxonomy.
func fsError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case os.IsNotExist(err):
		return newError(NotFound, op, path, err)
	case os.IsPermission(err):
		return newError(AccessDenied, op, path, err)
	default:
		return newError(IoError, op, path, err)
	}
}

// WrapConnError marks err as a ConnectionError of op on addr.
func WrapConnError(op, addr string, err error) error {
	if err == nil {
		return nil
	}
	return newError(ConnectionError, op, addr, err)
}

// WrapFSError classifies a filesystem error of op on path.
func WrapFSError(op, path string, err error) error {
	return fsError(op, path, err)
}
