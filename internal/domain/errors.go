package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure so the entry point can map it to an exit code.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindConfig        ErrorKind = "config"
	KindNetwork       ErrorKind = "network"
	KindSerialization ErrorKind = "serialization"
	KindFilesystem    ErrorKind = "filesystem"
	KindAuth          ErrorKind = "auth"
	KindUpload        ErrorKind = "upload"
)

// Error is a failure of one operation, tagged with its kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and the failing operation. The wrapped error carries
// a stack trace unless it already has one.
func E(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a new kinded error from a message.
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost domain error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}
