// Package device manages the connection to the environmental datalogger.
// Wire protocol lives behind Driver, this package owns retries and session state.
package device

import (
	"context"
	"time"
)

// Field is one raw value as reported by the logger, key is vendor-shaped.
type Field struct {
	Key   string
	Value interface{}
}

// Record keeps logger column order.
type Record []Field

func (r Record) Get(key string) (interface{}, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Driver contract:
// - Connect performs the physical open, fails fast, no internal retries
// - Handle methods may fail with any I/O error, caller decides to reconnect
// - Read returns records with start <= time <= stop, any order
type Driver interface {
	Connect(ctx context.Context, port string, baud int) (Handle, error)
}

type Handle interface {
	ListStreams(ctx context.Context) ([]string, error)
	Read(ctx context.Context, stream string, start, stop time.Time) ([]Record, error)
	CurrentTime(ctx context.Context) (time.Time, error)
	Close() error
}

type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReadPending
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReadPending:
		return "ReadPending"
	case StateExhausted:
		return "Exhausted"
	}
	return "State(?)"
}
