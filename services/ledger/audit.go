package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Action tags what an audit entry records.
type Action string

const (
	ActionDonationCreated  Action = "DONATION_CREATED"
	ActionDonationUpdated  Action = "DONATION_UPDATED"
	ActionDonationDeleted  Action = "DONATION_DELETED"
	ActionDonationRestored Action = "DONATION_RESTORED"
	ActionCategoryCreated  Action = "CATEGORY_CREATED"
	ActionCategoryUpdated  Action = "CATEGORY_UPDATED"
	ActionCategoryToggled  Action = "CATEGORY_TOGGLED"
	ActionCategoryDeleted  Action = "CATEGORY_DELETED"
	ActionUserCreated      Action = "USER_CREATED"
	ActionUserUpdated      Action = "USER_UPDATED"
	ActionUserLogin        Action = "USER_LOGIN"
	ActionUserLoginFailed  Action = "USER_LOGIN_FAILED"
	ActionReportExported   Action = "REPORT_EXPORTED"
)

// EntityType names the kind of record an audit entry points at.
type EntityType string

const (
	EntityDonation EntityType = "DONATION"
	EntityCategory EntityType = "CATEGORY"
	EntityUser     EntityType = "USER"
	EntityReport   EntityType = "REPORT"
)

// AuditEntry is one committed, immutable audit record.
type AuditEntry struct {
	ID          uuid.UUID       `json:"id"`
	Action      Action          `json:"action"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    *uuid.UUID      `json:"entity_id"`
	Description string          `json:"description"`
	UserID      *uuid.UUID      `json:"user_id"`
	UserRole    string          `json:"user_role"`
	IPAddress   string          `json:"ip_address"`
	UserAgent   string          `json:"user_agent"`
	Metadata    json.RawMessage `json:"metadata"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AuditSpec describes the entry a mutation emits. The actor and origin are
// taken from the mutation itself.
type AuditSpec struct {
	Action      Action
	EntityType  EntityType
	EntityID    *uuid.UUID
	Description string
	Metadata    map[string]any
}

// AuditFilter narrows audit trail reads.
type AuditFilter struct {
	Action     Action
	ActorID    *uuid.UUID
	EntityType EntityType
	Start      *time.Time
	End        *time.Time
	Search     string
	Page       int
	Limit      int
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Entries    []AuditEntry `json:"entries"`
	Pagination Pagination   `json:"pagination"`
}

// ActionCount is the number of entries recorded for one action.
type ActionCount struct {
	Action Action `json:"action" db:"action"`
	Count  int64  `json:"count" db:"count"`
}

// AuditTrail is the append-only store of audit entries.
type AuditTrail struct {
	orm     *gorm.DB
	pool    *pgxpool.Pool
	log     zerolog.Logger
	metrics *metrics
	now     func() time.Time
	timeout time.Duration
}

func (a *AuditTrail) build(actor Actor, spec AuditSpec) (auditModel, error) {
	meta := spec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return auditModel{}, fmt.Errorf("encode audit metadata: %w", err)
	}
	if spec.Action == "" || spec.EntityType == "" {
		return auditModel{}, fmt.Errorf("audit entry requires action and entity type")
	}

	m := auditModel{
		ID:          uuid.New(),
		Action:      string(spec.Action),
		EntityType:  string(spec.EntityType),
		EntityID:    spec.EntityID,
		Description: spec.Description,
		UserRole:    string(actor.Role),
		IPAddress:   actor.IPAddress,
		UserAgent:   actor.UserAgent,
		Metadata:    datatypes.JSON(raw),
		Timestamp:   a.now().UTC(),
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		m.UserID = &id
	}
	return m, nil
}

// Append inserts one entry using tx. It never updates existing rows; when tx
// is a transaction, a failure here must abort it.
func (a *AuditTrail) Append(ctx context.Context, tx *gorm.DB, actor Actor, spec AuditSpec) (AuditEntry, error) {
	m, err := a.build(actor, spec)
	if err != nil {
		return AuditEntry{}, err
	}
	if err := tx.WithContext(ctx).Create(&m).Error; err != nil {
		return AuditEntry{}, err
	}
	return m.toDomain(), nil
}

// Record appends an entry outside any transaction. Failures are logged and
// counted, and reported to the caller only as a nil entry.
func (a *AuditTrail) Record(ctx context.Context, actor Actor, spec AuditSpec) *AuditEntry {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	entry, err := a.Append(ctx, a.orm, actor, spec)
	if err != nil {
		a.metrics.auditFailures.Inc()
		a.log.Warn().Err(err).Str("action", string(spec.Action)).Msg("record audit entry")
		return nil
	}
	return &entry
}

func (f AuditFilter) predicate() Predicate {
	var p Predicate
	if f.Action != "" {
		p = p.and("audit_logs.action = ?", string(f.Action))
	}
	if f.ActorID != nil {
		p = p.and("audit_logs.user_id = ?", *f.ActorID)
	}
	if f.EntityType != "" {
		p = p.and("audit_logs.entity_type = ?", string(f.EntityType))
	}
	if f.Start != nil {
		p = p.and("audit_logs.timestamp >= ?", *f.Start)
	}
	if f.End != nil {
		p = p.and("audit_logs.timestamp <= ?", *f.End)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pat := containsPattern(s)
		p = p.and("(audit_logs.description ILIKE ? OR audit_logs.entity_type ILIKE ?)", pat, pat)
	}
	return p
}

func (f AuditFilter) validate() error {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return invalid(FieldViolation{Field: "start_date", Message: "must not be after end_date"})
	}
	return nil
}

// Query returns entries matching f ordered by timestamp descending.
func (a *AuditTrail) Query(ctx context.Context, f AuditFilter) (AuditPage, error) {
	if err := f.validate(); err != nil {
		return AuditPage{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	page, limit := normalizePage(f.Page, f.Limit)
	pred := f.predicate()

	var total int64
	if err := pred.Apply(a.orm.WithContext(ctx).Model(&auditModel{})).Count(&total).Error; err != nil {
		return AuditPage{}, classify(err)
	}

	var rows []auditModel
	err := pred.Apply(a.orm.WithContext(ctx).Model(&auditModel{})).
		Order("audit_logs.timestamp DESC").
		Order("audit_logs.id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return AuditPage{}, classify(err)
	}

	entries := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return AuditPage{Entries: entries, Pagination: newPagination(page, limit, total)}, nil
}

// Stats counts entries matching f per action.
func (a *AuditTrail) Stats(ctx context.Context, f AuditFilter) ([]ActionCount, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cond, args := f.predicate().SQL(0)
	counts := []ActionCount{}
	err := pgxscan.Select(ctx, a.pool, &counts, `
SELECT action, COUNT(*) AS count
FROM audit_logs
WHERE `+cond+`
GROUP BY action
ORDER BY count DESC, action ASC
`, args...)
	if err != nil {
		return nil, classify(err)
	}
	return counts, nil
}

// QueryAudit reads the audit trail. Only admins may read it.
func (s *Service) QueryAudit(ctx context.Context, actor Actor, f AuditFilter) (AuditPage, error) {
	if _, err := ScopeFor(actor, ResourceAudit); err != nil {
		return AuditPage{}, err
	}
	return s.audit.Query(ctx, f)
}

// AuditStats counts audit entries per action. Only admins may read it.
func (s *Service) AuditStats(ctx context.Context, actor Actor, f AuditFilter) ([]ActionCount, error) {
	if _, err := ScopeFor(actor, ResourceAudit); err != nil {
		return nil, err
	}
	return s.audit.Stats(ctx, f)
}
