package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
	"node.town/scribe/www"
)

const defaultHTTPAddr = "localhost:4444"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the listener headless behind an HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		logs := createLoggers(log.New(os.Stderr))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		settings := config.Load(viper.GetViper())
		addr := settings.HTTPAddr
		if addr == "" {
			addr = defaultHTTPAddr
		}

		a, err := newApp(ctx, settings, logs, nil)
		if err != nil {
			logs.main.Fatal("Error starting", "error", err)
		}
		defer a.close()

		done := a.start(ctx)

		err = www.Serve(ctx, addr, a.server().Router(), logs.http)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.http.Error("http server", "error", err)
		}

		cancel()
		<-done
		logs.main.Info("bye")
	},
}
