package db

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"node.town/scribe/session"
	"node.town/scribe/transcript"
)

const writeTimeout = 5 * time.Second

type Writer interface {
	StartSession(ctx context.Context, s SessionRecord) error
	Insert(ctx context.Context, r Record) error
}

// Follow archives every fragment appended to the transcript until ctx is
// done or updates is closed. A fragment is filed under the session stamped
// on it; unstamped fragments go to the current session, or the last one
// seen when none is live. current also supplies the session details
// recorded the first time an id is seen. Clears are not archived.
func Follow(
	ctx context.Context,
	updates <-chan transcript.Update,
	w Writer,
	current func() session.Info,
	logger *log.Logger,
) {
	var last session.Info

	for {
		var u transcript.Update
		var ok bool
		select {
		case <-ctx.Done():
			return
		case u, ok = <-updates:
			if !ok {
				return
			}
		}
		if u.Fragment == nil {
			continue
		}

		live := current()
		id := u.Fragment.Session
		if id == "" {
			id = live.ID
		}
		if id == "" {
			id = last.ID
		}

		if id != last.ID && id != "" {
			info := live
			if info.ID != id {
				// The session ended before its fragment got here.
				info = session.Info{ID: id, StartedAt: u.Fragment.ReceivedAt}
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := w.StartSession(wctx, SessionRecord{
				ID:        info.ID,
				ServerURL: info.ServerURL,
				Language:  info.Language,
				StartedAt: info.StartedAt,
			})
			cancel()
			if err != nil {
				logger.Error("archive session", "session", id, "error", err)
			}
			last = info
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := w.Insert(wctx, Record{
			SessionID:  id,
			Text:       u.Fragment.Text,
			ReceivedAt: u.Fragment.ReceivedAt,
		})
		cancel()
		if err != nil {
			logger.Error("archive fragment", "session", id, "error", err)
		}
	}
}
