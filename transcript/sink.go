// Package transcript holds the ordered log of text fragments received from
// the transcription server. Renderers observe it through Subscribe.
package transcript

import (
	"sync"
	"time"
)

type Fragment struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
	// Session is the id of the session the fragment was produced by, if any.
	Session string `json:"session,omitempty"`
}

// Update is one change to the log: either a newly appended fragment or a
// full clear.
type Update struct {
	Fragment *Fragment
	Cleared  bool
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type Option func(*Sink)

// WithClock stamps fragments using c instead of the system clock.
func WithClock(c Clock) Option {
	return func(s *Sink) {
		s.clock = c
	}
}

// Sink is an append-only fragment log. The only mutations are Append and
// Clear. It is safe for concurrent use.
type Sink struct {
	mu          sync.Mutex
	clock       Clock
	fragments   []Fragment
	subscribers map[int]chan Update
	nextID      int
}

func NewSink(opts ...Option) *Sink {
	s := &Sink{
		clock:       systemClock{},
		subscribers: make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Append(text string) Fragment {
	return s.AppendTo("", text)
}

// AppendTo appends text attributed to the given session.
func (s *Sink) AppendTo(session, text string) Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := Fragment{Text: text, ReceivedAt: s.clock.Now(), Session: session}
	s.fragments = append(s.fragments, f)
	s.publish(Update{Fragment: &f})
	return f
}

func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fragments = nil
	s.publish(Update{Cleared: true})
}

// Fragments returns a copy of the log in arrival order.
func (s *Sink) Fragments() []Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Fragment, len(s.fragments))
	copy(out, s.fragments)
	return out
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

// Text joins all fragments in order.
func (s *Sink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, f := range s.fragments {
		n += len(f.Text)
	}
	buf := make([]byte, 0, n)
	for _, f := range s.fragments {
		buf = append(buf, f.Text...)
	}
	return string(buf)
}

// Subscribe registers a listener for updates made after the call. A
// subscriber that falls more than buffer updates behind misses updates
// rather than stalling the writer. cancel closes the channel.
func (s *Sink) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Update, buffer)
	s.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publish must be called with mu held.
func (s *Sink) publish(u Update) {
	for _, ch := range s.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}
