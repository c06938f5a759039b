package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	topPurposesLimit      = 5
	topCategoriesLimit    = 5
	topOperatorsLimit     = 5
	categoryBreakdownSize = 8
	operatorRankingSize   = 10
	defaultTopDonors      = 10
	maxTopDonors          = 100
)

// Rollup is a count and exact sum over a set of donations.
type Rollup struct {
	Donations int64           `json:"donations" db:"donations"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
}

// DashboardMetrics is the landing summary. Admin-only figures are nil for
// operators.
type DashboardMetrics struct {
	Today            Rollup              `json:"today"`
	Week             Rollup              `json:"week"`
	Month            Rollup              `json:"month"`
	Total            Rollup              `json:"total"`
	AverageDonation  decimal.NullDecimal `json:"average_donation"`
	ActiveCategories int64               `json:"active_categories"`
	ActiveOperators  *int64              `json:"active_operators"`
	DeletedDonations *int64              `json:"deleted_donations"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// Group is one row of a ranking or distribution.
type Group struct {
	Key       string          `json:"key" db:"key"`
	Label     string          `json:"label" db:"label"`
	Donations int64           `json:"donations" db:"donations"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
}

// Bucket is one non-empty time bucket. Buckets without donations are absent.
type Bucket struct {
	Start     time.Time       `json:"start" db:"bucket"`
	Donations int64           `json:"donations" db:"donations"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
}

// InsightSummary aggregates a window. Min, max and average are null when the
// window is empty.
type InsightSummary struct {
	Donations    int64               `json:"donations" db:"donations"`
	Amount       decimal.Decimal     `json:"amount" db:"amount"`
	Average      decimal.NullDecimal `json:"average" db:"average"`
	Minimum      decimal.NullDecimal `json:"minimum" db:"minimum"`
	Maximum      decimal.NullDecimal `json:"maximum" db:"maximum"`
	UniqueDonors int64               `json:"unique_donors" db:"unique_donors"`
}

// Insights breaks a timeframe down by purpose, payment method, category,
// operator and time. TopOperators is nil for operators.
type Insights struct {
	Timeframe      Timeframe      `json:"timeframe"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	Granularity    Granularity    `json:"granularity"`
	Summary        InsightSummary `json:"summary"`
	TopPurposes    []Group        `json:"top_purposes"`
	PaymentMethods []Group        `json:"payment_methods"`
	TopCategories  []Group        `json:"top_categories"`
	TopOperators   []Group        `json:"top_operators"`
	Trend          []Bucket       `json:"trend"`
}

// OperatorStat ranks one operator by collected amount.
type OperatorStat struct {
	OperatorID   uuid.UUID           `json:"operator_id" db:"operator_id"`
	Name         string              `json:"name" db:"name"`
	Donations    int64               `json:"donations" db:"donations"`
	Amount       decimal.Decimal     `json:"amount" db:"amount"`
	Average      decimal.NullDecimal `json:"average" db:"average"`
	LastDonation *time.Time          `json:"last_donation" db:"last_donation"`
}

// Donor ranks one donor, identified by phone number.
type Donor struct {
	Phone        string          `json:"phone" db:"phone"`
	Name         string          `json:"name" db:"name"`
	Donations    int64           `json:"donations" db:"donations"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	LastDonation time.Time       `json:"last_donation" db:"last_donation"`
}

func (s *Service) analyticsScope(actor Actor) (Predicate, error) {
	scope, err := ScopeFor(actor, ResourceAnalytics)
	if err != nil {
		return Predicate{}, err
	}
	return scope.And(VisibleActive.predicate()), nil
}

func between(p Predicate, start, end time.Time) Predicate {
	return p.and("donations.date >= ?", start).and("donations.date <= ?", end)
}

func (s *Service) rollup(ctx context.Context, p Predicate) (Rollup, error) {
	cond, args := p.SQL(0)
	var r Rollup
	err := pgxscan.Get(ctx, s.store.DB, &r, `
SELECT COUNT(*) AS donations, COALESCE(SUM(donations.amount), 0) AS amount
FROM donations
WHERE `+cond, args...)
	return r, err
}

func (s *Service) count(ctx context.Context, dest *int64, query string, args ...any) error {
	return pgxscan.Get(ctx, s.store.DB, dest, query, args...)
}

// DashboardMetrics computes the landing summary. Its month is a fixed thirty
// day window.
func (s *Service) DashboardMetrics(ctx context.Context, actor Actor) (DashboardMetrics, error) {
	scope, err := s.analyticsScope(actor)
	if err != nil {
		return DashboardMetrics{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	w := dashboardWindowsAt(now, s.loc)
	admin := RequireAdmin(actor) == nil

	out := DashboardMetrics{GeneratedAt: now.UTC()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		out.Today, err = s.rollup(gctx, between(scope, w.today, now))
		return err
	})
	g.Go(func() (err error) {
		out.Week, err = s.rollup(gctx, between(scope, w.week, now))
		return err
	})
	g.Go(func() (err error) {
		out.Month, err = s.rollup(gctx, between(scope, w.month, now))
		return err
	})
	g.Go(func() (err error) {
		out.Total, err = s.rollup(gctx, scope)
		return err
	})
	g.Go(func() error {
		cond, args := scope.SQL(0)
		return pgxscan.Get(gctx, s.store.DB, &out.AverageDonation,
			`SELECT ROUND(AVG(donations.amount), 2) FROM donations WHERE `+cond, args...)
	})
	g.Go(func() error {
		return s.count(gctx, &out.ActiveCategories, `SELECT COUNT(*) FROM donation_categories WHERE is_active = true`)
	})
	if admin {
		var operators, deleted int64
		out.ActiveOperators = &operators
		out.DeletedDonations = &deleted
		g.Go(func() error {
			return s.count(gctx, &operators, `SELECT COUNT(*) FROM users WHERE role = $1 AND is_active = true`, string(RoleOperator))
		})
		g.Go(func() error {
			return s.count(gctx, &deleted, `SELECT COUNT(*) FROM donations WHERE is_deleted = true`)
		})
	}

	if err := g.Wait(); err != nil {
		return DashboardMetrics{}, classify(err)
	}
	return out, nil
}

func (s *Service) groupBy(ctx context.Context, p Predicate, keyExpr, labelExpr, join string, limit int) ([]Group, error) {
	cond, args := p.SQL(0)
	query := `
SELECT ` + keyExpr + ` AS key, ` + labelExpr + ` AS label,
	COUNT(*) AS donations, COALESCE(SUM(donations.amount), 0) AS amount
FROM donations
` + join + `
WHERE ` + cond + `
GROUP BY 1, 2
ORDER BY amount DESC, key ASC`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	groups := []Group{}
	if err := pgxscan.Select(ctx, s.store.DB, &groups, query, args...); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Service) buckets(ctx context.Context, p Predicate, unit Granularity) ([]Bucket, error) {
	cond, args := p.SQL(2)
	args = append([]any{string(unit), s.loc.String()}, args...)
	buckets := []Bucket{}
	err := pgxscan.Select(ctx, s.store.DB, &buckets, `
SELECT date_trunc($1, donations.date AT TIME ZONE $2) AS bucket,
	COUNT(*) AS donations, COALESCE(SUM(donations.amount), 0) AS amount
FROM donations
WHERE `+cond+`
GROUP BY 1
ORDER BY 1 ASC`, args...)
	if err != nil {
		return nil, err
	}
	// date_trunc on a local timestamp yields wall-clock values without a zone.
	for i, b := range buckets {
		buckets[i].Start = time.Date(b.Start.Year(), b.Start.Month(), b.Start.Day(), b.Start.Hour(), 0, 0, 0, s.loc)
	}
	return buckets, nil
}

// Insights analyses the donations of one timeframe. Its month is a calendar
// month ending now.
func (s *Service) Insights(ctx context.Context, actor Actor, tf Timeframe) (Insights, error) {
	scope, err := s.analyticsScope(actor)
	if err != nil {
		return Insights{}, err
	}
	now := s.now()
	start, end, unit, err := tf.Window(now, s.loc)
	if err != nil {
		return Insights{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := between(scope, start, end)
	out := Insights{Timeframe: tf, Start: start.UTC(), End: end.UTC(), Granularity: unit}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cond, args := p.SQL(0)
		return pgxscan.Get(gctx, s.store.DB, &out.Summary, `
SELECT COUNT(*) AS donations,
	COALESCE(SUM(donations.amount), 0) AS amount,
	ROUND(AVG(donations.amount), 2) AS average,
	MIN(donations.amount) AS minimum,
	MAX(donations.amount) AS maximum,
	COUNT(DISTINCT donations.donor_phone) AS unique_donors
FROM donations
WHERE `+cond, args...)
	})
	g.Go(func() (err error) {
		out.TopPurposes, err = s.groupBy(gctx, p, "donations.purpose", "donations.purpose", "", topPurposesLimit)
		return err
	})
	g.Go(func() (err error) {
		out.PaymentMethods, err = s.groupBy(gctx, p, "donations.payment_method", "donations.payment_method", "", 0)
		return err
	})
	g.Go(func() (err error) {
		out.TopCategories, err = s.groupBy(gctx, p,
			"COALESCE(c.id::text, '')", "COALESCE(c.name, 'Uncategorized')",
			"LEFT JOIN donation_categories c ON c.id = donations.category_id", topCategoriesLimit)
		return err
	})
	if RequireAdmin(actor) == nil {
		g.Go(func() (err error) {
			out.TopOperators, err = s.groupBy(gctx, p,
				"u.id::text", "u.name",
				"JOIN users u ON u.id = donations.operator_id", topOperatorsLimit)
			return err
		})
	}
	g.Go(func() (err error) {
		out.Trend, err = s.buckets(gctx, p, unit)
		return err
	})

	if err := g.Wait(); err != nil {
		return Insights{}, classify(err)
	}
	return out, nil
}

// TimeSeries returns daily buckets over [start, end].
func (s *Service) TimeSeries(ctx context.Context, actor Actor, start, end time.Time) ([]Bucket, error) {
	scope, err := s.analyticsScope(actor)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, invalid(FieldViolation{Field: "start_date", Message: "must be before end_date"})
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.buckets(ctx, between(scope, start, end), GranularityDay)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CategoryBreakdown ranks categories by all-time amount. Donations without a
// category are grouped as Uncategorized.
func (s *Service) CategoryBreakdown(ctx context.Context, actor Actor) ([]Group, error) {
	scope, err := s.analyticsScope(actor)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.groupBy(ctx, scope,
		"COALESCE(c.id::text, '')", "COALESCE(c.name, 'Uncategorized')",
		"LEFT JOIN donation_categories c ON c.id = donations.category_id", categoryBreakdownSize)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// OperatorPerformance ranks operators by collected amount.
func (s *Service) OperatorPerformance(ctx context.Context, actor Actor) ([]OperatorStat, error) {
	if err := RequireAdmin(actor); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cond, args := VisibleActive.predicate().SQL(0)
	args = append(args, operatorRankingSize)
	stats := []OperatorStat{}
	err := pgxscan.Select(ctx, s.store.DB, &stats, `
SELECT u.id AS operator_id, u.name,
	COUNT(*) AS donations,
	COALESCE(SUM(donations.amount), 0) AS amount,
	ROUND(AVG(donations.amount), 2) AS average,
	MAX(donations.date) AS last_donation
FROM donations
JOIN users u ON u.id = donations.operator_id
WHERE `+cond+`
GROUP BY u.id, u.name
ORDER BY amount DESC, u.name ASC
LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, classify(err)
	}
	return stats, nil
}

// TopDonors ranks donors by total amount. The most recent name recorded for
// a phone number is reported.
func (s *Service) TopDonors(ctx context.Context, actor Actor, limit int) ([]Donor, error) {
	scope, err := s.analyticsScope(actor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTopDonors
	}
	if limit > maxTopDonors {
		limit = maxTopDonors
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cond, args := scope.SQL(0)
	args = append(args, limit)
	donors := []Donor{}
	err = pgxscan.Select(ctx, s.store.DB, &donors, `
SELECT donations.donor_phone AS phone,
	(ARRAY_AGG(donations.donor_name ORDER BY donations.date DESC))[1] AS name,
	COUNT(*) AS donations,
	COALESCE(SUM(donations.amount), 0) AS amount,
	MAX(donations.date) AS last_donation
FROM donations
WHERE `+cond+`
GROUP BY donations.donor_phone
ORDER BY amount DESC, phone ASC
LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, classify(err)
	}
	return donors, nil
}
