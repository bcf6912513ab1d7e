// Package config loads the listener's settings from flags, environment
// and the scribe.yaml file through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"node.town/scribe/capture"
	"node.town/scribe/session"
)

const DefaultServerURL = "ws://localhost:8080/ws"

const (
	KeyServerURL   = "server_url"
	KeyLanguage    = "language"
	KeyAutoStart   = "auto_start"
	KeySampleRate  = "sample_rate"
	KeyFrameSize   = "frame_size"
	KeyDevice      = "device"
	KeyInput       = "input"
	KeyRecordDir   = "record_dir"
	KeyDatabaseURL = "database_url"
	KeyHTTPAddr    = "http_addr"
)

const (
	FileName  = "scribe"
	EnvPrefix = "SCRIBE"
)

type Settings struct {
	ServerURL   string `mapstructure:"server_url"`
	Language    string `mapstructure:"language"`
	AutoStart   bool   `mapstructure:"auto_start"`
	SampleRate  int    `mapstructure:"sample_rate"`
	FrameSize   int    `mapstructure:"frame_size"`
	Device      string `mapstructure:"device"`
	Input       string `mapstructure:"input"`
	RecordDir   string `mapstructure:"record_dir"`
	DatabaseURL string `mapstructure:"database_url"`
	HTTPAddr    string `mapstructure:"http_addr"`
}

// Session is the part of the settings a session is started with.
func (s Settings) Session() session.Settings {
	return session.Settings{
		ServerURL: s.ServerURL,
		Language:  s.Language,
		AutoStart: s.AutoStart,
		Capture: capture.Config{
			SampleRate: s.SampleRate,
			FrameSize:  s.FrameSize,
			Device:     s.Device,
		},
	}
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, DefaultServerURL)
	v.SetDefault(KeyLanguage, "")
	v.SetDefault(KeyAutoStart, false)
	v.SetDefault(KeySampleRate, capture.DefaultSampleRate)
	v.SetDefault(KeyFrameSize, capture.DefaultFrameSize)
}

// Init points v at scribe.yaml in the working directory or the user config
// directory and reads it if present. A missing file is not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "scribe"))
		}
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load takes a validated snapshot of the current settings.
func Load(v *viper.Viper) Settings {
	s := Settings{
		ServerURL:   NormalizeServerURL(v.GetString(KeyServerURL)),
		Language:    strings.TrimSpace(v.GetString(KeyLanguage)),
		AutoStart:   v.GetBool(KeyAutoStart),
		SampleRate:  v.GetInt(KeySampleRate),
		FrameSize:   v.GetInt(KeyFrameSize),
		Device:      v.GetString(KeyDevice),
		Input:       v.GetString(KeyInput),
		RecordDir:   v.GetString(KeyRecordDir),
		DatabaseURL: v.GetString(KeyDatabaseURL),
		HTTPAddr:    v.GetString(KeyHTTPAddr),
	}
	if s.SampleRate <= 0 {
		s.SampleRate = capture.DefaultSampleRate
	}
	if s.FrameSize <= 0 {
		s.FrameSize = capture.DefaultFrameSize
	}
	return s
}

// NormalizeServerURL returns raw if it is an absolute ws or wss URL and
// the default local server otherwise.
func NormalizeServerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return DefaultServerURL
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return raw
	}
	return DefaultServerURL
}

// Watch calls fn with a fresh snapshot every time the config file changes.
func Watch(v *viper.Viper, logger *log.Logger, fn func(Settings)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		s := Load(v)
		logger.Info("config changed", "file", e.Name, "op", e.Op, "server", s.ServerURL)
		fn(s)
	})
	v.WatchConfig()
}

// Write stores the session-facing settings in path, creating its directory
// if needed.
func Write(v *viper.Viper, s Settings, path string) error {
	v.Set(KeyServerURL, NormalizeServerURL(s.ServerURL))
	v.Set(KeyLanguage, s.Language)
	v.Set(KeyAutoStart, s.AutoStart)
	if s.Device != "" {
		v.Set(KeyDevice, s.Device)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultPath is where setup writes the config file when none was loaded.
func DefaultPath(v *viper.Viper) string {
	if used := v.ConfigFileUsed(); used != "" {
		return used
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "scribe", FileName+".yaml")
	}
	return FileName + ".yaml"
}
