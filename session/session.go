// Package session coordinates audio capture, encoding and the streaming
// connection behind a start/stop switch.
package session

import (
	"context"
	"errors"
	"time"

	"node.town/scribe/capture"
	"node.town/scribe/stt"
)

var (
	// ErrPermissionDenied means the host refused access to audio input.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrSessionActive is returned by Start while a session is starting
	// or running.
	ErrSessionActive = errors.New("session already active")
	// ErrNotRunning is returned when the controller's loop has exited.
	ErrNotRunning = errors.New("controller not running")
)

// Fragments written to the transcript when a session fails.
const (
	PermissionDeniedText = "Error: Permission Denied"
	CaptureFailedText    = "Error: Failed to capture audio."
	ConnectionFailedText = "Error: Connection failed"
)

type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings is the snapshot a session is started with.
type Settings struct {
	ServerURL string
	Language  string
	AutoStart bool
	Capture   capture.Config
}

// Tap receives every encoded frame of a session, after it is sent. pcm is
// only valid for the duration of the call.
type Tap interface {
	WriteFrame(pcm []byte)
	Close() error
}

// TapFactory creates the tap for a new session.
type TapFactory func(sessionID string) (Tap, error)

// session is one start-to-stop attempt. Only the controller loop touches it.
type session struct {
	id        string
	gen       uint64
	settings  Settings
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	source    capture.Source
	frames    <-chan []float32
	conn      stt.Connection
	tap       Tap
	frameN    uint64
}

// Info describes the current session for status queries.
type Info struct {
	State      State     `json:"state"`
	ID         string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Connected  bool      `json:"connected"`
	Connection string    `json:"connection"`
	Frames     uint64    `json:"frames"`
	ServerURL  string    `json:"server_url,omitempty"`
	Language   string    `json:"language,omitempty"`
}

type ConnectionState struct {
	Connected bool `json:"connected"`
}
