package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
	"node.town/scribe/ui"
	"node.town/scribe/www"
)

var listenLogFile string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Show the live transcript and toggle listening with the space bar",
	Run:   runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenLogFile, "log-file", "scribe.log", "Write logs here while the UI owns the terminal")
}

func runListen(cmd *cobra.Command, args []string) {
	fileLogger, closeLog, err := ui.OpenFileLogger(listenLogFile, log.DebugLevel)
	if err != nil {
		log.Fatal("Error opening log file", "error", err)
	}
	defer closeLog()
	logs := createLoggers(fileLogger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings := config.Load(viper.GetViper())
	a, err := newApp(ctx, settings, logs, confirmMigration)
	if err != nil {
		log.Fatal("Error starting", "error", err)
	}
	defer a.close()

	// Subscribe before the controller runs so the UI sees every fragment.
	updates, unsubscribe := a.sink.Subscribe(256)
	backlog := a.sink.Fragments()

	done := a.start(ctx)

	if settings.HTTPAddr != "" {
		go func() {
			if err := www.Serve(ctx, settings.HTTPAddr, a.server().Router(), logs.http); err != nil {
				logs.http.Error("http server", "error", err)
			}
		}()
	}

	logs.main.Info("listening", "server", settings.ServerURL, "language", settings.Language)
	if err := ui.Run(a.ctrl, updates, backlog); err != nil {
		logs.main.Error("ui", "error", err)
	}

	cancel()
	unsubscribe()
	<-done
}
