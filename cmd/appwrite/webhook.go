package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appwrite "github.com/appwrite/sdk-for-go"
	"github.com/spf13/cobra"
)

var (
	webhookAddr    string
	webhookURL     string
	webhookKey     string
	webhookOutput  string
	webhookNATSURL string
	webhookPrefix  string
)

func init() {
	rootCmd.AddCommand(webhookCmd)
	f := webhookCmd.Flags()
	f.StringVar(&webhookAddr, "addr", ":8080", "listen address")
	f.StringVar(&webhookURL, "url", "", "webhook URL as configured in the Appwrite console")
	f.StringVar(&webhookKey, "key", "", "webhook signature key")
	f.StringVarP(&webhookOutput, "output", "o", "json", "output format (json, yaml)")
	f.StringVar(&webhookNATSURL, "nats-url", "", "also publish deliveries to this NATS server")
	f.StringVar(&webhookPrefix, "subject-prefix", "appwrite", "prefix for published subjects")
	_ = webhookCmd.MarkFlagRequired("url")
	_ = webhookCmd.MarkFlagRequired("key")
}

var webhookCmd = &cobra.Command{
	Use:   "webhook --url <url> --key <key>",
	Short: "Receive Appwrite webhooks and print or relay them",
	Long: "Serve an HTTP endpoint for Appwrite webhooks. Verified deliveries are printed like\n" +
		"realtime events and, with --nats-url, published the same way as 'appwrite relay'.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if webhookOutput != "json" && webhookOutput != "yaml" {
			return fmt.Errorf("unknown output format %q (valid: json, yaml)", webhookOutput)
		}
		if err := validSubjectPrefix(webhookPrefix); err != nil {
			return err
		}

		logger := newLogger()
		log := logger.WithField("component", "webhook")
		printer := newEventPrinter(cmd.OutOrStdout(), webhookOutput)

		var r *relay
		if webhookNATSURL != "" {
			nc, err := connectNATS(webhookNATSURL, log)
			if err != nil {
				return err
			}
			defer nc.Close()
			r = &relay{pub: nc, prefix: webhookPrefix, log: log}
		}

		wh, err := appwrite.NewWebhook(webhookURL, webhookKey, func(d *appwrite.WebhookDelivery) error {
			ev := d.Event()
			if err := printer.print(ev); err != nil {
				return err
			}
			if r != nil {
				r.forward(ev)
			}
			return nil
		})
		if err != nil {
			return err
		}

		srv := &http.Server{Addr: webhookAddr, Handler: wh.HTTPHandler(), ReadHeaderTimeout: 5 * time.Second}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		log.WithField("addr", webhookAddr).Info("Receiving webhooks")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("webhook server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
