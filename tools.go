package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/capture"
	"node.town/scribe/config"
	"node.town/scribe/db"
	"node.town/scribe/stt"
)

func init() {
	historyCmd.Flags().Int("limit", 20, "Number of fragments to show")
	rootCmd.AddCommand(historyCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe [url]",
	Short: "Check that the transcription server accepts connections",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := config.Load(viper.GetViper()).ServerURL
		if len(args) == 1 {
			url = args[0]
		}

		err := stt.Probe(context.Background(), nil, url, stt.DefaultProbeTimeout)
		if err != nil {
			fmt.Printf("%s: %v\n", url, err)
			os.Exit(1)
		}
		fmt.Printf("%s: ok\n", url)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Run: func(cmd *cobra.Command, args []string) {
		devices, err := capture.ListDevices()
		if err != nil {
			log.Fatal("Error listing devices", "error", err)
		}
		if len(devices) == 0 {
			fmt.Println("No input devices found.")
			return
		}
		renderDevices(os.Stdout, devices)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent fragments from the transcript archive",
	Run: func(cmd *cobra.Command, args []string) {
		settings := config.Load(viper.GetViper())
		if settings.DatabaseURL == "" {
			log.Fatal("No database configured; set --database-url or database_url")
		}
		limit, _ := cmd.Flags().GetInt("limit")

		logs := createLoggers(log.New(os.Stderr))
		ctx := context.Background()
		archive, err := db.Open(ctx, settings.DatabaseURL, logs.data, confirmMigration)
		if err != nil {
			logs.data.Fatal("Error opening archive", "error", err)
		}
		defer archive.Close()

		records, err := archive.Recent(ctx, limit)
		if err != nil {
			logs.data.Fatal("Error reading archive", "error", err)
		}
		renderHistory(os.Stdout, records)
	},
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}

func renderDevices(w io.Writer, devices []capture.Device) {
	table := newTable(w, []string{"Name", "Host API", "Channels", "Sample Rate", "Default"})
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		table.Append([]string{
			d.Name,
			d.HostAPI,
			fmt.Sprintf("%d", d.Channels),
			fmt.Sprintf("%.0f Hz", d.SampleRate),
			def,
		})
	}
	table.Render()
}

// renderHistory prints records oldest first, as they were spoken.
func renderHistory(w io.Writer, records []db.Record) {
	table := newTable(w, []string{"Received At", "Session", "Text"})
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		session := r.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		table.Append([]string{
			r.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			session,
			strings.TrimSpace(r.Text),
		})
	}
	table.Render()
}
