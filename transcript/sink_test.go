package transcript

import (
	"testing"
	"time"
)

type MockClock struct {
	currentTime time.Time
}

func (m *MockClock) Now() time.Time {
	return m.currentTime
}

func TestAppendStampsAndOrders(t *testing.T) {
	clock := &MockClock{currentTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	sink := NewSink(WithClock(clock))

	sink.Append("hello ")
	clock.currentTime = clock.currentTime.Add(time.Second)
	sink.Append("world")

	fragments := sink.Fragments()
	if len(fragments) != 2 {
		t.Fatalf("Expected 2 fragments, got %d", len(fragments))
	}
	if fragments[0].Text != "hello " || fragments[1].Text != "world" {
		t.Errorf("Fragments out of order: %+v", fragments)
	}
	if !fragments[1].ReceivedAt.Equal(fragments[0].ReceivedAt.Add(time.Second)) {
		t.Errorf("Unexpected timestamps: %v, %v", fragments[0].ReceivedAt, fragments[1].ReceivedAt)
	}
	if got := sink.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}
}

func TestFragmentsReturnsCopy(t *testing.T) {
	sink := NewSink()
	sink.Append("a")

	fragments := sink.Fragments()
	fragments[0].Text = "mutated"

	if got := sink.Fragments()[0].Text; got != "a" {
		t.Errorf("Sink was mutated through Fragments(): got %q", got)
	}
}

func TestClear(t *testing.T) {
	sink := NewSink()
	sink.Append("a")
	sink.Append("b")
	sink.Clear()

	if sink.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", sink.Len())
	}
	if sink.Text() != "" {
		t.Errorf("Text() = %q after Clear, want empty", sink.Text())
	}
}

func TestSubscribe(t *testing.T) {
	sink := NewSink()
	sink.Append("before")

	updates, cancel := sink.Subscribe(8)
	defer cancel()

	sink.Append("one")
	sink.Clear()
	sink.Append("two")

	want := []Update{
		{Fragment: &Fragment{Text: "one"}},
		{Cleared: true},
		{Fragment: &Fragment{Text: "two"}},
	}
	for i, w := range want {
		select {
		case u := <-updates:
			if u.Cleared != w.Cleared {
				t.Errorf("Update %d: Cleared = %v, want %v", i, u.Cleared, w.Cleared)
			}
			if w.Fragment != nil && (u.Fragment == nil || u.Fragment.Text != w.Fragment.Text) {
				t.Errorf("Update %d: got fragment %+v, want %q", i, u.Fragment, w.Fragment.Text)
			}
		default:
			t.Fatalf("Update %d missing", i)
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	sink := NewSink()
	updates, cancel := sink.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Append("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}

	if sink.Len() != 10 {
		t.Errorf("Len() = %d, want 10", sink.Len())
	}
	if len(updates) != 1 {
		t.Errorf("Expected 1 buffered update, got %d", len(updates))
	}

	cancel()
	cancel()
	for range updates {
	}
	sink.Append("after cancel")
}
