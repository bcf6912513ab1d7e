package stt

import (
	"context"
	"errors"
)

// ErrConnection marks a connection that failed to open or dropped.
var ErrConnection = errors.New("connection error")

type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a lifecycle notification from one connection. Conn identifies
// the connection that produced it so that owners can discard events from
// connections they have already abandoned.
type Event struct {
	Conn uint64
	Kind EventKind
	Text string // EventMessage
	Err  error  // EventClosed, wraps ErrConnection
}

// Connection is one streaming session with the transcription server.
type Connection interface {
	// Connect starts opening the connection and returns immediately; the
	// outcome arrives as an EventOpen or EventClosed.
	Connect(ctx context.Context, url string) error
	// Send writes one binary frame. It reports false and drops the frame
	// when the connection is not open.
	Send(data []byte) bool
	Close() error
	State() State
}

// Transport creates connections that report to events. language, when
// set, is announced to the server before any audio.
type Transport interface {
	NewConnection(id uint64, language string, events chan<- Event) Connection
}
