// Package capture acquires audio from the host and delivers it as
// fixed-size mono frames of normalized float32 samples.
package capture

import (
	"context"
	"errors"
)

// ErrCaptureDenied is returned when the host refuses access to audio input.
var ErrCaptureDenied = errors.New("audio capture denied")

// ErrCaptureUnavailable is returned when there is no audio source to capture.
var ErrCaptureUnavailable = errors.New("audio capture unavailable")

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096
)

type Config struct {
	SampleRate int
	FrameSize  int    // samples per frame
	Device     string // input device name, empty for the host default
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	return c
}

// Source is an open capture stream. Frames is closed when the source is
// closed or the underlying input ends; it cannot be restarted.
type Source interface {
	Frames() <-chan []float32
	Close() error
}

// Host is the audio subsystem a session acquires its source from.
type Host interface {
	RequestPermission(ctx context.Context) (bool, error)
	Open(ctx context.Context, cfg Config) (Source, error)
}

// Device describes one input device known to the host.
type Device struct {
	Name       string
	HostAPI    string
	Channels   int
	SampleRate float64
	Default    bool
}
