package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	appwrite "github.com/appwrite/sdk-for-go"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	relayNATSURL       string
	relaySubjectPrefix string
	relayMetricsAddr   string
)

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayNATSURL, "nats-url", nats.DefaultURL, "NATS server URL")
	relayCmd.Flags().StringVar(&relaySubjectPrefix, "subject-prefix", "appwrite", "prefix for published subjects")
	relayCmd.Flags().StringVar(&relayMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

var relayCmd = &cobra.Command{
	Use:   "relay <channel>...",
	Short: "Forward realtime events to NATS",
	Long: "Subscribe to realtime channels and publish every event to NATS as <prefix>.<event name>.\n" +
		"Example: appwrite relay documents --nats-url nats://localhost:4222",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validSubjectPrefix(relaySubjectPrefix); err != nil {
			return err
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
		log := logger.WithField("component", "relay")

		nc, err := connectNATS(relayNATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		metrics, stopMetrics := startMetrics(relayMetricsAddr, logger)
		defer stopMetrics()

		rt := newRealtime(client, logger, metrics)
		defer rt.Close()

		r := &relay{pub: nc, prefix: relaySubjectPrefix, log: log}
		sub, err := rt.Subscribe(args, r.forward)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Close()

		log.WithFields(logrus.Fields{
			"channels": sub.Channels,
			"nats":     nc.ConnectedUrl(),
		}).Info("Relaying")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		if err := nc.Flush(); err != nil {
			log.WithError(err).Warn("NATS flush failed")
		}
		return nil
	},
}

func connectNATS(url string, log logrus.FieldLogger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("appwrite-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// ============================================================================
// Relay
// ============================================================================

// Header keys set on every relayed message.
const (
	headerChannels  = "Appwrite-Channels"
	headerTimestamp = "Appwrite-Timestamp"
)

type publisher interface {
	PublishMsg(m *nats.Msg) error
}

type relay struct {
	pub    publisher
	prefix string
	log    logrus.FieldLogger
}

// forward publishes ev once per concrete event name.
func (r *relay) forward(ev appwrite.RealtimeResponseEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.WithError(err).Warn("Failed to encode event")
		return
	}

	for _, subject := range eventSubjects(r.prefix, ev.Events) {
		msg := nats.NewMsg(subject)
		msg.Data = data
		msg.Header.Set(headerChannels, strings.Join(ev.Channels, ","))
		msg.Header.Set(headerTimestamp, ev.Timestamp)

		if err := r.pub.PublishMsg(msg); err != nil {
			r.log.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
		}
	}
}

// eventSubjects maps event names to NATS subjects. Names that carry
// wildcards or would form an invalid subject are skipped.
func eventSubjects(prefix string, events []string) []string {
	out := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, name := range events {
		if !validSubjectTokens(name) {
			continue
		}
		subject := prefix + "." + name
		if _, dup := seen[subject]; dup {
			continue
		}
		seen[subject] = struct{}{}
		out = append(out, subject)
	}
	return out
}

func validSubjectPrefix(prefix string) error {
	if !validSubjectTokens(prefix) {
		return fmt.Errorf("invalid subject prefix %q", prefix)
	}
	return nil
}

func validSubjectTokens(s string) bool {
	if s == "" || strings.ContainsAny(s, "*> \t\r\n") {
		return false
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return false
		}
	}
	return true
}
