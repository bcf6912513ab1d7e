package db

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/scribe/session"
	"node.town/scribe/transcript"
)

type fakeWriter struct {
	mu       sync.Mutex
	sessions []SessionRecord
	records  []Record
	failNext bool
}

func (f *fakeWriter) StartSession(ctx context.Context, s SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeWriter) Insert(ctx context.Context, r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("database unavailable")
	}
	f.records = append(f.records, r)
	return nil
}

func (f *fakeWriter) snapshot() ([]SessionRecord, []Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SessionRecord(nil), f.sessions...), append([]Record(nil), f.records...)
}

func TestFollowArchivesFragments(t *testing.T) {
	updates := make(chan transcript.Update, 8)
	writer := &fakeWriter{}

	var mu sync.Mutex
	info := session.Info{ID: "s1", ServerURL: "ws://a/ws", Language: "en"}
	current := func() session.Info {
		mu.Lock()
		defer mu.Unlock()
		return info
	}

	done := make(chan struct{})
	go func() {
		Follow(context.Background(), updates, writer, current, log.New(io.Discard))
		close(done)
	}()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "one", ReceivedAt: at}}
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "two", ReceivedAt: at}}
	updates <- transcript.Update{Cleared: true}

	waitArchived(t, writer, 2)
	mu.Lock()
	info = session.Info{}
	mu.Unlock()
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "Error: Connection failed", ReceivedAt: at}}

	waitArchived(t, writer, 3)
	mu.Lock()
	info = session.Info{ID: "s2", ServerURL: "ws://b/ws"}
	mu.Unlock()
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "three", ReceivedAt: at}}

	close(updates)
	<-done

	sessions, records := writer.snapshot()
	if len(sessions) != 2 || sessions[0].ID != "s1" || sessions[1].ID != "s2" {
		t.Errorf("Sessions = %+v, want s1 then s2", sessions)
	}
	wantIDs := []string{"s1", "s1", "s1", "s2"}
	if len(records) != len(wantIDs) {
		t.Fatalf("Expected %d records, got %d", len(wantIDs), len(records))
	}
	for i, r := range records {
		if r.SessionID != wantIDs[i] {
			t.Errorf("Record %d (%q) session = %q, want %q", i, r.Text, r.SessionID, wantIDs[i])
		}
		if !r.ReceivedAt.Equal(at) {
			t.Errorf("Record %d timestamp = %v, want %v", i, r.ReceivedAt, at)
		}
	}
}

func TestFollowFilesLateFragmentsUnderTheirSession(t *testing.T) {
	updates := make(chan transcript.Update, 4)
	writer := &fakeWriter{}
	current := func() session.Info {
		return session.Info{ID: "s2", ServerURL: "ws://b/ws", Language: "de"}
	}

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "late", ReceivedAt: at, Session: "s1"}}
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "new", ReceivedAt: at, Session: "s2"}}
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "untagged", ReceivedAt: at}}
	close(updates)

	Follow(context.Background(), updates, writer, current, log.New(io.Discard))

	sessions, records := writer.snapshot()
	if len(sessions) != 2 {
		t.Fatalf("Sessions = %+v, want s1 then s2", sessions)
	}
	if sessions[0].ID != "s1" || sessions[0].ServerURL != "" || !sessions[0].StartedAt.Equal(at) {
		t.Errorf("Ended session recorded as %+v", sessions[0])
	}
	if sessions[1].ID != "s2" || sessions[1].ServerURL != "ws://b/ws" || sessions[1].Language != "de" {
		t.Errorf("Live session recorded as %+v", sessions[1])
	}

	wantIDs := []string{"s1", "s2", "s2"}
	if len(records) != len(wantIDs) {
		t.Fatalf("Expected %d records, got %d", len(wantIDs), len(records))
	}
	for i, r := range records {
		if r.SessionID != wantIDs[i] {
			t.Errorf("Record %d (%q) session = %q, want %q", i, r.Text, r.SessionID, wantIDs[i])
		}
	}
}

func TestFollowSurvivesWriteErrors(t *testing.T) {
	updates := make(chan transcript.Update, 2)
	writer := &fakeWriter{failNext: true}
	current := func() session.Info { return session.Info{ID: "s1"} }

	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "lost"}}
	updates <- transcript.Update{Fragment: &transcript.Fragment{Text: "kept"}}
	close(updates)

	Follow(context.Background(), updates, writer, current, log.New(io.Discard))

	_, records := writer.snapshot()
	if len(records) != 1 || records[0].Text != "kept" {
		t.Errorf("Records = %+v, want only %q", records, "kept")
	}
}

func waitArchived(t *testing.T, w *fakeWriter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, records := w.snapshot(); len(records) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d archived records", n)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestArchiveRoundTrip needs a scratch Postgres database.
func TestArchiveRoundTrip(t *testing.T) {
	url := os.Getenv("SCRIBE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SCRIBE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	archive, err := Open(ctx, url, log.New(io.Discard), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer archive.Close()

	// Migrations are idempotent.
	if err := Migrate(ctx, archive.db, log.New(io.Discard), nil); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	id := "test-" + at.Format(time.RFC3339Nano)
	if err := archive.StartSession(ctx, SessionRecord{ID: id, ServerURL: "ws://x/ws", StartedAt: at}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := archive.Insert(ctx, Record{SessionID: id, Text: "hello", ReceivedAt: at}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	records, err := archive.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	for _, r := range records {
		if r.SessionID == id && r.Text == "hello" {
			return
		}
	}
	t.Errorf("Inserted fragment not found in %+v", records)
}
