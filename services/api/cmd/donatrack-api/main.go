package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"donatrack/pkg/auth"
	"donatrack/pkg/bus"
	"donatrack/pkg/config"
	"donatrack/pkg/db"
	"donatrack/pkg/render"
	"donatrack/pkg/server"
	gos3 "donatrack/pkg/s3"
	"donatrack/pkg/telemetry"
	"donatrack/services/api"
	"donatrack/services/ledger"
	"donatrack/services/reports"
)

const serviceName = "donatrack-api"

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
	if err := cfg.RequireAPI(); err != nil {
		return err
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

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	orm, err := db.OpenORM(pool)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}

	var dispatcher ledger.Dispatcher
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer b.Close()
		if err := b.EnsureStream(ledger.StreamDonations, ledger.SubjectDonationCreated); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		dispatcher = ledger.BusDispatcher{Bus: b}
	} else {
		logger.Warn().Msg("NATS_URL not set; donation receipts are disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := ledger.New(&ledger.Store{DB: pool, ORM: orm}, ledger.Options{
		Credentials:     auth.Bcrypt{},
		Notifier:        dispatcher,
		Location:        loc,
		Logger:          logger.With().Str("component", "ledger").Logger(),
		Registerer:      registry,
		MutationTimeout: cfg.MutationTimeout,
		QueryTimeout:    cfg.DBStatementTimeout,
	})
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	tokens, err := auth.NewTokens(cfg.TokenSigningKey, cfg.TokenTTL)
	if err != nil {
		return err
	}

	exporter, err := newExporter(ctx, cfg, svc, logger)
	if err != nil {
		return err
	}

	deps := api.Deps{
		Ledger:   svc,
		Tokens:   tokens,
		Ready:    func(ctx context.Context) error { return db.Ping(ctx, pool) },
		Gatherer: registry,
		Logger:   logger,
	}
	if exporter != nil {
		deps.Reports = exporter
	}

	handlers, err := api.New(deps, api.Config{
		ServiceName:        serviceName,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Location:           loc,
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	router, err := handlers.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server.ListenAndServe(ctx, srv, cfg.Addr, logger)
}

// newExporter returns nil when object storage is not configured.
func newExporter(ctx context.Context, cfg config.Config, svc *ledger.Service, logger zerolog.Logger) (*reports.Exporter, error) {
	if !cfg.S3.Enabled() || cfg.ReportBucket == "" {
		logger.Warn().Msg("S3_ENDPOINT or REPORT_BUCKET not set; report export is disabled")
		return nil, nil
	}

	client, err := gos3.New(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	engine, err := render.New()
	if err != nil {
		return nil, err
	}
	return reports.NewExporter(svc, svc.Audit(), client, engine, reports.Config{
		Bucket:     cfg.ReportBucket,
		URLTTL:     cfg.ReportURLTTL,
		Recipients: cfg.ReportRecipients,
	}, logger.With().Str("component", "reports").Logger())
}
