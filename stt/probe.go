package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultProbeTimeout = 5 * time.Second

// Probe opens and immediately closes a throwaway connection to url. It
// does not touch any running session.
func Probe(ctx context.Context, dialer *websocket.Dialer, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, url, err)
	}
	defer ws.Close()

	err = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(WriteWait),
	)
	if err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrConnection, url, err)
	}
	return nil
}
