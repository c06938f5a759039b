package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"donatrack/pkg/auth"
	"donatrack/services/ledger"
	"donatrack/services/reports"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRateLimit      = 300
	loginRateLimit        = 10
)

// Ledger is the set of ledger operations exposed over HTTP.
type Ledger interface {
	Login(ctx context.Context, req ledger.LoginRequest) (ledger.User, error)
	ResolveIdentity(ctx context.Context, id uuid.UUID, claimed ledger.Role, ip, userAgent string) (ledger.Actor, error)

	CreateDonation(ctx context.Context, actor ledger.Actor, in ledger.DonationInput) (ledger.Donation, error)
	UpdateDonation(ctx context.Context, actor ledger.Actor, id uuid.UUID, patch ledger.DonationPatch) (ledger.Donation, error)
	GetDonation(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Donation, error)
	ListDonations(ctx context.Context, actor ledger.Actor, f ledger.DonationFilter) (ledger.DonationPage, error)
	DeleteDonation(ctx context.Context, actor ledger.Actor, id uuid.UUID, reason string) (ledger.Donation, error)
	RestoreDonation(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Donation, error)
	ListDeletedDonations(ctx context.Context, actor ledger.Actor, f ledger.DonationFilter) (ledger.DonationPage, error)

	CreateCategory(ctx context.Context, actor ledger.Actor, in ledger.CategoryInput) (ledger.Category, error)
	UpdateCategory(ctx context.Context, actor ledger.Actor, id uuid.UUID, patch ledger.CategoryPatch) (ledger.Category, error)
	ToggleCategory(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Category, error)
	DeleteCategory(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Category, error)
	ListCategories(ctx context.Context, actor ledger.Actor, includeInactive bool) ([]ledger.Category, error)

	CreateUser(ctx context.Context, actor ledger.Actor, in ledger.UserInput) (ledger.User, error)
	UpdateUser(ctx context.Context, actor ledger.Actor, id uuid.UUID, patch ledger.UserPatch) (ledger.User, error)
	ListUsers(ctx context.Context, actor ledger.Actor) ([]ledger.User, error)

	QueryAudit(ctx context.Context, actor ledger.Actor, f ledger.AuditFilter) (ledger.AuditPage, error)
	AuditStats(ctx context.Context, actor ledger.Actor, f ledger.AuditFilter) ([]ledger.ActionCount, error)

	DashboardMetrics(ctx context.Context, actor ledger.Actor) (ledger.DashboardMetrics, error)
	Insights(ctx context.Context, actor ledger.Actor, tf ledger.Timeframe) (ledger.Insights, error)
	TimeSeries(ctx context.Context, actor ledger.Actor, start, end time.Time) ([]ledger.Bucket, error)
	CategoryBreakdown(ctx context.Context, actor ledger.Actor) ([]ledger.Group, error)
	OperatorPerformance(ctx context.Context, actor ledger.Actor) ([]ledger.OperatorStat, error)
	TopDonors(ctx context.Context, actor ledger.Actor, limit int) ([]ledger.Donor, error)
}

// ReportExporter produces downloadable donation reports.
type ReportExporter interface {
	Export(ctx context.Context, actor ledger.Actor, f ledger.DonationFilter) (reports.Result, error)
}

// Deps holds external dependencies required by the API layer. Reports and
// Ready are optional.
type Deps struct {
	Ledger   Ledger
	Tokens   *auth.Tokens
	Reports  ReportExporter
	Ready    func(context.Context) error
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	ServiceName        string
	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	Location           *time.Location
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	ledger   Ledger
	tokens   *auth.Tokens
	reports  ReportExporter
	ready    func(context.Context) error
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	config   Config
}

// New initialises the API layer with sane defaults applied to the provided configuration.
func New(deps Deps, cfg Config) (*API, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token service is required")
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "donatrack-api"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = defaultRateLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Ready == nil {
		deps.Ready = func(context.Context) error { return nil }
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &API{
		ledger:   deps.Ledger,
		tokens:   deps.Tokens,
		reports:  deps.Reports,
		ready:    deps.Ready,
		gatherer: deps.Gatherer,
		log:      deps.Logger,
		config:   cfg,
	}, nil
}
