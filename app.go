package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/viper"

	"node.town/scribe/capture"
	"node.town/scribe/config"
	"node.town/scribe/db"
	"node.town/scribe/session"
	"node.town/scribe/snd"
	"node.town/scribe/stt"
	"node.town/scribe/transcript"
	"node.town/scribe/www"
)

// app is one running listener: the controller plus whatever optional
// outputs the settings ask for.
type app struct {
	settings config.Settings
	logs     loggers
	sink     *transcript.Sink
	ctrl     *session.Controller
	archive  *db.Archive
}

func newApp(ctx context.Context, settings config.Settings, logs loggers, confirm db.Confirm) (*app, error) {
	a := &app{
		settings: settings,
		logs:     logs,
		sink:     transcript.NewSink(),
	}

	var opts []session.Option
	if settings.RecordDir != "" {
		opts = append(opts, session.WithTaps(recorderTaps(settings.RecordDir, settings.SampleRate, logs)))
	}

	a.ctrl = session.NewController(
		newHost(settings, logs),
		stt.NewWebSocketTransport(logs.wire),
		a.sink,
		settings.Session(),
		logs.ctrl,
		opts...,
	)

	if settings.DatabaseURL != "" {
		archive, err := db.Open(ctx, settings.DatabaseURL, logs.data, confirm)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = archive
	}
	return a, nil
}

// newHost picks the audio source: a WAV file when one is configured, the
// input device otherwise.
func newHost(settings config.Settings, logs loggers) capture.Host {
	if settings.Input != "" {
		return capture.NewFileHost(settings.Input, true, logs.hear)
	}
	return capture.NewPortAudioHost(logs.hear)
}

func recorderTaps(dir string, sampleRate int, logs loggers) session.TapFactory {
	return func(sessionID string) (session.Tap, error) {
		name := fmt.Sprintf("%s-%s.ogg", time.Now().Format("20060102-150405"), sessionID[:8])
		return snd.CreateRecorder(filepath.Join(dir, name), sampleRate, logs.hear)
	}
}

// start runs the controller and the archive follower until ctx is done.
// The returned channel closes once both have finished.
func (a *app) start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	var follower chan struct{}
	if a.archive != nil {
		updates, cancel := a.sink.Subscribe(256)
		follower = make(chan struct{})
		go func() {
			defer close(follower)
			defer cancel()
			db.Follow(ctx, updates, a.archive, a.ctrl.Info, a.logs.data)
		}()
	}

	go func() {
		defer close(done)
		a.ctrl.Run(ctx)
		if follower != nil {
			<-follower
		}
	}()

	config.Watch(viper.GetViper(), a.logs.main, func(s config.Settings) {
		if err := a.ctrl.UpdateSettings(ctx, s.Session()); err != nil {
			a.logs.main.Warn("settings not applied", "error", err)
		}
	})

	return done
}

func (a *app) server() *www.Server {
	var archive www.Archive
	if a.archive != nil {
		archive = a.archive
	}
	return &www.Server{
		Controller: a.ctrl,
		Archive:    archive,
		Probe:      probeConfigured,
		Logger:     a.logs.http,
	}
}

func (a *app) close() {
	if a.archive != nil {
		a.archive.Close()
	}
}

// probeConfigured tests the server URL from the current configuration.
func probeConfigured(ctx context.Context) error {
	url := config.Load(viper.GetViper()).ServerURL
	return stt.Probe(ctx, nil, url, stt.DefaultProbeTimeout)
}

// confirmMigration asks before changing the archive schema.
func confirmMigration(m db.Migration) (bool, error) {
	var confirm bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("New migration found: %s", m.ID)).
		Description(m.Description).
		Value(&confirm).
		Run()
	return confirm, err
}
