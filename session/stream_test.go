package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"node.town/scribe/stt"
	"node.town/scribe/transcript"
)

// TestStreamsOverWebSocket runs two sessions against a real websocket
// server and checks what the server sees on each connection.
func TestStreamsOverWebSocket(t *testing.T) {
	type wireMessage struct {
		kind int
		size int
		text string
	}
	connections := make(chan chan wireMessage, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		received := make(chan wireMessage, 16)
		connections <- received
		defer close(received)

		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg := wireMessage{kind: kind, size: len(data)}
			if kind == websocket.TextMessage {
				msg.text = string(data)
				ws.WriteMessage(websocket.TextMessage, []byte("heard "))
			}
			received <- msg
		}
	}))
	defer srv.Close()

	settings := testSettings
	settings.ServerURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	settings.Language = "en"

	host := &fakeHost{}
	sink := transcript.NewSink()
	logger := log.New(io.Discard)
	ctrl := NewController(host, stt.NewWebSocketTransport(logger), sink, settings, logger)

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(exited)
	}()
	defer func() {
		cancel()
		<-exited
	}()

	for round := 0; round < 2; round++ {
		if err := ctrl.Start(ctx); err != nil {
			t.Fatalf("Round %d: Start failed: %v", round, err)
		}
		waitFor(t, "connected", func() bool { return ctrl.ConnectionState().Connected })

		var received chan wireMessage
		select {
		case received = <-connections:
		case <-time.After(2 * time.Second):
			t.Fatalf("Round %d: server saw no connection", round)
		}

		sources := host.sources()
		src := sources[len(sources)-1]
		for i := 0; i < 3; i++ {
			src.push(t, make([]float32, 4096))
		}

		var got []wireMessage
		for len(got) < 4 {
			select {
			case msg := <-received:
				got = append(got, msg)
			case <-time.After(2 * time.Second):
				t.Fatalf("Round %d: server received %d of 4 messages", round, len(got))
			}
		}

		if got[0].kind != websocket.TextMessage || got[0].text != "language:en" {
			t.Errorf("Round %d: first message = %+v, want language directive", round, got[0])
		}
		for i, msg := range got[1:] {
			if msg.kind != websocket.BinaryMessage || msg.size != 8192 {
				t.Errorf("Round %d: message %d = %+v, want 8192 binary bytes", round, i+1, msg)
			}
		}

		waitFor(t, "server reply in transcript", func() bool { return sink.Len() == 1 })
		if got := sink.Text(); got != "heard " {
			t.Errorf("Round %d: transcript = %q, want %q", round, got, "heard ")
		}

		if err := ctrl.Stop(ctx); err != nil {
			t.Fatalf("Round %d: Stop failed: %v", round, err)
		}
		if sink.Len() != 0 {
			t.Errorf("Round %d: transcript not cleared on stop", round)
		}
	}
}
