// Package dberrors defines the error taxonomy shared by every nbase component.
package dberrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers (an HTTP layer, a CLI, a test)
// need to branch on, independent of the wrapped message text.
type Kind int

const (
	Unknown Kind = iota
	InvalidArgument
	NotFound
	DimensionMismatch
	CapacityExceeded
	DatabaseNotReady
	Closed
	Overloaded
	Timeout
	IoError
	SerializationError
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case DimensionMismatch:
		return "dimension_mismatch"
	case CapacityExceeded:
		return "capacity_exceeded"
	case DatabaseNotReady:
		return "database_not_ready"
	case Closed:
		return "closed"
	case Overloaded:
		return "overloaded"
	case Timeout:
		return "timeout"
	case IoError:
		return "io_error"
	case SerializationError:
		return "serialization_error"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the structured error every component returns. Op names the
// failing operation ("vectorstore.add", "hnsw.search", ...); Err is the
// underlying cause, wrapped so errors.Is/As still reach sentinels below.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a *Error. Use it at the point a failure is first classified.
func E(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain. Returns
// Unknown for a plain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Sentinel causes that components wrap with E() rather than constructing ad hoc strings.
var (
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("closed")
	ErrNotReady     = errors.New("database not ready")
	ErrOverloaded   = errors.New("concurrency limit reached")
	ErrTimeout      = errors.New("operation timed out")
	ErrCapacityFull = errors.New("partition at capacity")
)
