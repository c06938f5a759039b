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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"donatrack/pkg/bus"
	"donatrack/pkg/config"
	"donatrack/pkg/db"
	"donatrack/pkg/render"
	"donatrack/pkg/server"
	"donatrack/pkg/telemetry"
	"donatrack/services/ledger"
	"donatrack/services/notifier"
)

const serviceName = "donatrack-notifier"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.NATSURL == "" {
		return errors.New("NATS_URL is required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(serviceName, cfg.LogLevel, cfg.LogFormat)

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN, db.Options{
		MaxConns:         cfg.DBMaxConns,
		ConnectTimeout:   cfg.DBConnectTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	b, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer b.Close()
	if err := b.EnsureStream(ledger.StreamDonations, ledger.SubjectDonationCreated); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	mailer, err := notifier.NewSMTPMailer(notifier.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return err
	}

	status, err := notifier.NewPGStatusStore(pool)
	if err != nil {
		return err
	}
	engine, err := render.New()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	n, err := notifier.New(b, mailer, status, engine, notifier.Options{
		Organization: cfg.Organization,
		Location:     loc,
		Logger:       logger,
		Registerer:   registry,
	})
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error().Err(err).Msg("close subscription")
		}
	}()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           telemetry.Middleware(logger, serviceName)(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().Str("addr", cfg.Addr).Str("subject", ledger.SubjectDonationCreated).Msg("notifier started")
	return server.ListenAndServe(ctx, srv, cfg.Addr, logger)
}
