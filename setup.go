package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/capture"
	"node.town/scribe/config"
	"node.town/scribe/stt"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Choose the server, language and input device and save them",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup()
	},
}

var languages = []string{"", "en", "de", "es", "fr", "it", "ja", "nl", "pt", "sv", "zh"}

func validateServerURL(s string) error {
	s = strings.TrimSpace(s)
	if config.NormalizeServerURL(s) != s {
		return errors.New("must be a ws:// or wss:// URL with a host")
	}
	return nil
}

func languageOptions() []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(languages))
	for _, code := range languages {
		label := code
		if code == "" {
			label = "Let the server decide"
		}
		options = append(options, huh.NewOption(label, code))
	}
	return options
}

func deviceOptions(devices []capture.Device) []huh.Option[string] {
	options := []huh.Option[string]{huh.NewOption("System default", "")}
	for _, d := range devices {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", d.Name, d.HostAPI), d.Name))
	}
	return options
}

func RunSetup() {
	log.Info("Starting Scribe setup...")

	v := viper.GetViper()
	settings := config.Load(v)

	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewInput().
				Title("Transcription server URL").
				Value(&settings.ServerURL).
				Validate(validateServerURL),
			huh.NewSelect[string]().
				Title("Spoken language").
				Options(languageOptions()...).
				Value(&settings.Language),
			huh.NewConfirm().
				Title("Start listening when Scribe starts?").
				Value(&settings.AutoStart),
		),
	}

	devices, err := capture.ListDevices()
	if err != nil {
		log.Warn("Could not list input devices", "error", err)
	} else if len(devices) > 0 {
		groups = append(groups, huh.NewGroup(
			huh.NewSelect[string]().
				Title("Input device").
				Options(deviceOptions(devices)...).
				Value(&settings.Device),
		))
	}

	if err := huh.NewForm(groups...).Run(); err != nil {
		log.Fatal("Error during setup", "error", err)
	}
	settings.ServerURL = strings.TrimSpace(settings.ServerURL)

	testNow := true
	huh.NewConfirm().
		Title("Test the connection now?").
		Value(&testNow).
		Run()
	if testNow {
		err := stt.Probe(context.Background(), nil, settings.ServerURL, stt.DefaultProbeTimeout)
		if err != nil {
			log.Warn("Server not reachable; saving anyway", "url", settings.ServerURL, "error", err)
		} else {
			log.Info("Server reachable", "url", settings.ServerURL)
		}
	}

	path := config.DefaultPath(v)
	if err := config.Write(v, settings, path); err != nil {
		log.Fatal("Error saving configuration", "error", err)
	}

	log.Info("Setup completed successfully!", "config", path)
}
