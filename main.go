package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
)

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./scribe.yaml or ~/.config/scribe/scribe.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level")

	// Add persistent flags
	rootCmd.PersistentFlags().
		String("server-url", config.DefaultServerURL, "Transcription server websocket URL")
	rootCmd.PersistentFlags().
		String("language", "", "Spoken language code sent to the server, e.g. en")
	rootCmd.PersistentFlags().
		Bool("auto-start", false, "Start listening as soon as the program starts")
	rootCmd.PersistentFlags().Int("sample-rate", 16000, "Capture sample rate in Hz")
	rootCmd.PersistentFlags().Int("frame-size", 4096, "Samples per audio frame")
	rootCmd.PersistentFlags().String("device", "", "Input device name (default device if empty)")
	rootCmd.PersistentFlags().String("input", "", "Replay a WAV file instead of capturing from a device")
	rootCmd.PersistentFlags().String("record-dir", "", "Write each session's audio to an Ogg/Opus file in this directory")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres URL for the transcript archive")
	rootCmd.PersistentFlags().String("http-addr", "", "Serve the status API on this address")

	// Bind flags to viper
	for key, flag := range map[string]string{
		config.KeyServerURL:   "server-url",
		config.KeyLanguage:    "language",
		config.KeyAutoStart:   "auto-start",
		config.KeySampleRate:  "sample-rate",
		config.KeyFrameSize:   "frame-size",
		config.KeyDevice:      "device",
		config.KeyInput:       "input",
		config.KeyRecordDir:   "record-dir",
		config.KeyDatabaseURL: "database-url",
		config.KeyHTTPAddr:    "http-addr",
		"debug":               "debug",
	} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
}

func initConfig() {
	if err := config.Init(viper.GetViper(), cfgFile); err != nil {
		fmt.Printf("Error reading config file: %s\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe streams microphone audio to a transcription server",
	Long: `Scribe captures audio from an input device, streams it as 16-bit PCM
over a websocket to a transcription server and shows the transcript as it
arrives.`,
}

type loggers struct {
	main *log.Logger
	hear *log.Logger
	wire *log.Logger
	ctrl *log.Logger
	http *log.Logger
	data *log.Logger
}

func createLoggers(logger *log.Logger) loggers {
	logLevel := log.InfoLevel
	if viper.GetBool("debug") {
		logLevel = log.DebugLevel
	}

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		hear: logger.With().WithPrefix("hear"),
		wire: logger.With().WithPrefix("wire"),
		ctrl: logger.With().WithPrefix("ctrl"),
		http: logger.With().WithPrefix("http"),
		data: logger.With().WithPrefix("data"),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
