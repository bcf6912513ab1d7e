package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"node.town/scribe/capture"
	"node.town/scribe/snd"
	"node.town/scribe/stt"
	"node.town/scribe/transcript"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdToggle
	cmdSettings
)

type command struct {
	kind     commandKind
	settings Settings
	reply    chan error
}

type resultKind int

const (
	resultPermission resultKind = iota
	resultCapture
)

// result is the completion of an asynchronous start step.
type result struct {
	kind    resultKind
	gen     uint64
	granted bool
	source  capture.Source
	err     error
}

// Controller owns at most one session at a time. All transitions run on
// the goroutine executing Run; the exported methods post messages to it.
type Controller struct {
	host      capture.Host
	transport stt.Transport
	sink      *transcript.Sink
	taps      TapFactory
	logger    *log.Logger

	cmds    chan command
	events  chan stt.Event
	results chan result
	done    chan struct{}

	// owned by the loop
	settings Settings
	state    State
	gen      uint64
	current  *session
	encoder  *snd.Encoder

	mu     sync.Mutex
	status Info
	conn   stt.Connection
}

type Option func(*Controller)

// WithTaps attaches a tap to every session the controller starts.
func WithTaps(f TapFactory) Option {
	return func(c *Controller) {
		c.taps = f
	}
}

func NewController(
	host capture.Host,
	transport stt.Transport,
	sink *transcript.Sink,
	settings Settings,
	logger *log.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		host:      host,
		transport: transport,
		sink:      sink,
		logger:    logger,
		settings:  settings,
		cmds:      make(chan command),
		events:    make(chan stt.Event, 16),
		results:   make(chan result),
		done:      make(chan struct{}),
		encoder:   snd.NewEncoder(settings.Capture.FrameSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Info{State: Stopped, Connection: stt.Idle.String()}
	return c
}

func (c *Controller) Sink() *transcript.Sink {
	return c.sink
}

// Run processes messages until ctx is cancelled, then tears down any live
// session.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	if c.settings.AutoStart {
		c.logger.Info("auto-starting")
		c.start(ctx)
		c.publishStatus()
	}

	for {
		var frames <-chan []float32
		if c.current != nil {
			frames = c.current.frames
		}

		select {
		case <-ctx.Done():
			if c.state != Stopped {
				c.stop()
			}
			return ctx.Err()

		case cmd := <-c.cmds:
			err := c.handleCommand(ctx, cmd)
			c.publishStatus()
			cmd.reply <- err
			continue

		case r := <-c.results:
			c.handleResult(r)

		case ev := <-c.events:
			c.handleEvent(ev)

		case frame, ok := <-frames:
			if !ok {
				c.logger.Info("capture ended", "session", c.current.id)
				c.current.frames = nil
				continue
			}
			c.handleFrame(frame)
		}
		c.publishStatus()
	}
}

// Start begins a session. It returns once the controller is Starting; the
// outcome of the attempt shows up in State and the transcript.
func (c *Controller) Start(ctx context.Context) error {
	return c.send(ctx, command{kind: cmdStart})
}

// Stop ends the current session, if any. Stopping a stopped controller is
// a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	return c.send(ctx, command{kind: cmdStop})
}

// Toggle stops a live session or starts a new one.
func (c *Controller) Toggle(ctx context.Context) error {
	return c.send(ctx, command{kind: cmdToggle})
}

// UpdateSettings stores s for the next session. A live session keeps the
// snapshot it was started with.
func (c *Controller) UpdateSettings(ctx context.Context, s Settings) error {
	return c.send(ctx, command{kind: cmdSettings, settings: s})
}

func (c *Controller) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.State
}

// Info returns a snapshot of the controller and its session.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.status
	if c.conn != nil {
		state := c.conn.State()
		info.Connection = state.String()
		info.Connected = state == stt.Open
	}
	return info
}

func (c *Controller) ConnectionState() ConnectionState {
	return ConnectionState{Connected: c.Info().Connected}
}

func (c *Controller) publishStatus() {
	info := Info{State: c.state, Connection: stt.Idle.String()}
	var conn stt.Connection
	if s := c.current; s != nil {
		info.ID = s.id
		info.StartedAt = s.startedAt
		info.Frames = s.frameN
		info.ServerURL = s.settings.ServerURL
		info.Language = s.settings.Language
		conn = s.conn
	}

	c.mu.Lock()
	c.status = info
	c.conn = conn
	c.mu.Unlock()
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdStart:
		return c.start(ctx)
	case cmdStop:
		if c.state != Stopped {
			c.stop()
		}
		return nil
	case cmdToggle:
		if c.state == Stopped {
			return c.start(ctx)
		}
		c.stop()
		return nil
	case cmdSettings:
		c.settings = cmd.settings
		c.logger.Info(
			"settings updated",
			"server", cmd.settings.ServerURL,
			"language", cmd.settings.Language,
			"applies", "next session",
		)
		return nil
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

func (c *Controller) start(ctx context.Context) error {
	if c.state != Stopped {
		return ErrSessionActive
	}

	c.gen++
	sctx, cancel := context.WithCancel(ctx)
	c.current = &session{
		id:        uuid.New().String(),
		gen:       c.gen,
		settings:  c.settings,
		startedAt: time.Now(),
		ctx:       sctx,
		cancel:    cancel,
	}
	c.state = Starting
	c.logger.Info(
		"starting",
		"session", c.current.id,
		"server", c.current.settings.ServerURL,
		"language", c.current.settings.Language,
	)

	gen := c.gen
	go func() {
		granted, err := c.host.RequestPermission(sctx)
		c.post(result{kind: resultPermission, gen: gen, granted: granted, err: err})
	}()
	return nil
}

// post hands an async result to the loop. If the loop has exited, anything
// the result acquired is released here.
func (c *Controller) post(r result) {
	select {
	case c.results <- r:
	case <-c.done:
		if r.source != nil {
			r.source.Close()
		}
	}
}

func (c *Controller) isStale(gen uint64) bool {
	return c.current == nil || c.current.gen != gen || c.state != Starting
}

func (c *Controller) handleResult(r result) {
	if c.isStale(r.gen) {
		c.logger.Debug("discarding stale result", "gen", r.gen)
		if r.source != nil {
			r.source.Close()
		}
		return
	}

	switch r.kind {
	case resultPermission:
		c.handlePermission(r)
	case resultCapture:
		c.handleCapture(r)
	}
}

func (c *Controller) handlePermission(r result) {
	s := c.current
	if r.err != nil || !r.granted {
		err := r.err
		if err == nil {
			err = ErrPermissionDenied
		}
		c.logger.Warn("permission refused", "session", s.id, "error", err)
		c.fail(PermissionDeniedText)
		return
	}

	c.logger.Debug("permission granted", "session", s.id)
	gen := s.gen
	cfg := s.settings.Capture
	go func() {
		src, err := c.host.Open(s.ctx, cfg)
		c.post(result{kind: resultCapture, gen: gen, source: src, err: err})
	}()
}

func (c *Controller) handleCapture(r result) {
	s := c.current
	if errors.Is(r.err, capture.ErrCaptureDenied) {
		c.logger.Warn("capture refused", "session", s.id, "error", r.err)
		c.fail(PermissionDeniedText)
		return
	}
	if r.err != nil {
		c.logger.Error("capture failed", "session", s.id, "error", r.err)
		c.fail(CaptureFailedText)
		return
	}

	s.source = r.source
	s.frames = r.source.Frames()

	s.conn = c.transport.NewConnection(s.gen, s.settings.Language, c.events)
	if err := s.conn.Connect(s.ctx, s.settings.ServerURL); err != nil {
		c.logger.Error("connect failed", "session", s.id, "error", err)
		c.fail(ConnectionFailedText)
		return
	}

	if c.taps != nil {
		tap, err := c.taps(s.id)
		if err != nil {
			c.logger.Error("tap unavailable", "session", s.id, "error", err)
		} else {
			s.tap = tap
		}
	}

	c.state = Running
	c.logger.Info("running", "session", s.id)
}

func (c *Controller) handleFrame(frame []float32) {
	s := c.current
	if s == nil || c.state != Running {
		return
	}
	s.frameN++

	pcm := c.encoder.Bytes(frame)
	s.conn.Send(pcm)
	if s.tap != nil {
		s.tap.WriteFrame(pcm)
	}
}

func (c *Controller) handleEvent(ev stt.Event) {
	s := c.current
	if s == nil || s.gen != ev.Conn || s.conn == nil {
		c.logger.Debug("discarding stale event", "conn", ev.Conn, "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case stt.EventOpen:
		c.logger.Info("connected", "session", s.id)
	case stt.EventMessage:
		if c.state != Running {
			return
		}
		c.sink.AppendTo(s.id, ev.Text)
	case stt.EventClosed:
		if c.state != Running {
			return
		}
		c.logger.Error("connection lost", "session", s.id, "error", ev.Err)
		c.fail(ConnectionFailedText)
	}
}

// fail reports a terminal error for the current session and returns to
// Stopped. The transcript keeps the error fragment.
func (c *Controller) fail(text string) {
	id := c.current.id
	c.state = Stopping
	c.teardown()
	c.sink.AppendTo(id, text)
	c.state = Stopped
}

func (c *Controller) stop() {
	c.state = Stopping
	c.teardown()
	c.sink.Clear()
	c.state = Stopped
}

// teardown releases everything the current session acquired, connection
// first.
func (c *Controller) teardown() {
	s := c.current
	if s == nil {
		return
	}
	c.current = nil

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			c.logger.Warn("close connection", "session", s.id, "error", err)
		}
	}
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			c.logger.Warn("close capture", "session", s.id, "error", err)
		}
	}
	if s.tap != nil {
		if err := s.tap.Close(); err != nil {
			c.logger.Warn("close tap", "session", s.id, "error", err)
		}
	}
	s.cancel()

	c.logger.Info(
		"stopped",
		"session", s.id,
		"frames", s.frameN,
		"duration", time.Since(s.startedAt).Round(time.Millisecond),
	)
}
