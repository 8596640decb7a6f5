// Package fault classifies pipeline errors so the cycle loop can decide
// between retry, skip and escalation without knowing which stage failed.
package fault

import (
	"fmt"

	"github.com/juju/errors"
)

type Kind uint8

const (
	Unknown Kind = iota
	Connection
	NoDataStream
	Read
	Storage
	Config
	Uplink
)

func (k Kind) String() string {
	switch k {
	case Connection:
		return "connection"
	case NoDataStream:
		return "no-data-stream"
	case Read:
		return "read"
	case Storage:
		return "storage"
	case Config:
		return "config"
	case Uplink:
		return "uplink"
	}
	return "unknown"
}

// Retryable kinds may succeed on the next attempt without operator action.
func (k Kind) Retryable() bool {
	switch k {
	case Connection, Read, Storage, Uplink, Unknown:
		return true
	}
	return false
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return fmt.Sprintf("%s error: %s", e.Kind.String(), e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as kind. Returns nil for nil err.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return errors.Trace(&Error{Kind: kind, Err: err})
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return errors.Trace(&Error{Kind: kind, Err: errors.Errorf(format, args...)})
}

// KindOf looks through juju annotations for the innermost classified error.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	if fe, ok := errors.Cause(err).(*Error); ok {
		return fe.Kind
	}
	if fe, ok := err.(*Error); ok {
		return fe.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }
