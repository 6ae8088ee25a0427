package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	appwrite "github.com/appwrite/sdk-for-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// newClient builds an Appwrite client from the CLI configuration.
func newClient(cfg *Config) (*appwrite.Client, error) {
	if cfg.Default.Project == "" {
		return nil, errors.New("no project configured. Run 'appwrite init --project <id>' first")
	}

	opts := []appwrite.ClientOption{
		appwrite.WithProject(cfg.Default.Project),
	}
	if cfg.Default.Endpoint != "" {
		opts = append(opts, appwrite.WithEndpoint(cfg.Default.Endpoint))
	}
	if cfg.Default.EndpointRealtime != "" {
		opts = append(opts, appwrite.WithEndpointRealtime(cfg.Default.EndpointRealtime))
	}
	if cfg.Default.SelfSigned {
		opts = append(opts, appwrite.WithSelfSigned(true))
	}
	client := appwrite.NewClient(opts...)

	if cfg.Session.Cookie != "" {
		if err := setSessionCookie(client, cfg.Session.Cookie); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// setSessionCookie stores a "name=value" cookie in the client's jar for the
// API host so the realtime handshake is authenticated.
func setSessionCookie(client *appwrite.Client, raw string) error {
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return fmt.Errorf("invalid session cookie: %w", err)
	}
	u, err := url.Parse(client.Endpoint())
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	jar := client.HTTPClient().Jar
	if jar == nil {
		return errors.New("http client has no cookie jar")
	}
	for _, c := range cookies {
		c.Path = "/"
	}
	jar.SetCookies(u, cookies)
	return nil
}

// newLogger builds the CLI logger from the --log-level and --log-format flags.
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	if logFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "@timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// startMetrics registers the realtime collectors and, when addr is set,
// serves them on /metrics. The returned function stops the server.
func startMetrics(addr string, log logrus.FieldLogger) (*appwrite.Metrics, func()) {
	if addr == "" {
		return nil, func() {}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := appwrite.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("Serving metrics")

	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// newRealtime wires a realtime engine to the CLI logger and metrics.
func newRealtime(client *appwrite.Client, logger *logrus.Logger, metrics *appwrite.Metrics) *appwrite.Realtime {
	return appwrite.NewRealtime(client, &appwrite.RealtimeConfig{
		Logger:  logger.WithField("component", "realtime"),
		Metrics: metrics,
	})
}

// maskValue shows the first and last 4 characters of a secret.
func maskValue(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
