package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	appwrite "github.com/appwrite/sdk-for-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	listenOutput      string
	listenMetricsAddr string
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVarP(&listenOutput, "output", "o", "json", "output format (json, yaml)")
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

var listenCmd = &cobra.Command{
	Use:   "listen <channel>...",
	Short: "Subscribe to realtime channels and print events",
	Long:  "Subscribe to one or more realtime channels and print every event until interrupted.\nExample: appwrite listen documents files --output yaml",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenOutput != "json" && listenOutput != "yaml" {
			return fmt.Errorf("unknown output format %q (valid: json, yaml)", listenOutput)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}

		logger := newLogger()
		metrics, stopMetrics := startMetrics(listenMetricsAddr, logger)
		defer stopMetrics()

		rt := newRealtime(client, logger, metrics)
		defer rt.Close()

		printer := newEventPrinter(cmd.OutOrStdout(), listenOutput)
		sub, err := rt.Subscribe(args, func(ev appwrite.RealtimeResponseEvent) {
			if err := printer.print(ev); err != nil {
				logger.WithError(err).Warn("Failed to print event")
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Close()

		logger.WithField("channels", sub.Channels).Info("Listening")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

// ============================================================================
// Event output
// ============================================================================

// eventRecord is the printed form of an event; the payload is decoded so
// YAML output renders it as a mapping rather than raw bytes.
type eventRecord struct {
	Events    []string `json:"events" yaml:"events"`
	Channels  []string `json:"channels" yaml:"channels"`
	Timestamp string   `json:"timestamp" yaml:"timestamp"`
	Payload   any      `json:"payload" yaml:"payload"`
}

func newEventRecord(ev appwrite.RealtimeResponseEvent) (eventRecord, error) {
	payload, err := appwrite.DecodePayload[any](ev)
	if err != nil {
		return eventRecord{}, err
	}
	return eventRecord{
		Events:    ev.Events,
		Channels:  ev.Channels,
		Timestamp: ev.Timestamp,
		Payload:   payload,
	}, nil
}

// eventPrinter serialises events from concurrent callbacks onto one writer.
type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	jsonEn *json.Encoder
	yamlEn *yaml.Encoder
}

func newEventPrinter(w io.Writer, format string) *eventPrinter {
	p := &eventPrinter{w: w, format: format}
	if format == "yaml" {
		p.yamlEn = yaml.NewEncoder(w)
		p.yamlEn.SetIndent(2)
	} else {
		p.jsonEn = json.NewEncoder(w)
	}
	return p
}

func (p *eventPrinter) print(ev appwrite.RealtimeResponseEvent) error {
	rec, err := newEventRecord(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.yamlEn != nil {
		return p.yamlEn.Encode(rec)
	}
	return p.jsonEn.Encode(rec)
}
