package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ResourceKind names the record families a scope can be built for.
type ResourceKind string

const (
	ResourceDonation  ResourceKind = "donation"
	ResourceCategory  ResourceKind = "category"
	ResourceUser      ResourceKind = "user"
	ResourceAudit     ResourceKind = "audit"
	ResourceAnalytics ResourceKind = "analytics"
)

type condition struct {
	sql  string
	args []any
}

// Predicate is a conjunction of SQL conditions written with ? placeholders.
// It can be applied to a gorm query or rendered for raw pgx queries.
type Predicate struct {
	conds []condition
}

func where(sql string, args ...any) Predicate {
	return Predicate{conds: []condition{{sql: sql, args: args}}}
}

// And returns a predicate holding the conditions of p followed by those of o.
func (p Predicate) And(o Predicate) Predicate {
	out := make([]condition, 0, len(p.conds)+len(o.conds))
	out = append(out, p.conds...)
	out = append(out, o.conds...)
	return Predicate{conds: out}
}

func (p Predicate) and(sql string, args ...any) Predicate {
	return p.And(where(sql, args...))
}

// Empty reports whether p adds no restriction.
func (p Predicate) Empty() bool { return len(p.conds) == 0 }

// Apply adds every condition to q as a WHERE clause.
func (p Predicate) Apply(q *gorm.DB) *gorm.DB {
	for _, c := range p.conds {
		q = q.Where(c.sql, c.args...)
	}
	return q
}

// SQL renders p with positional $n placeholders starting at start+1. An
// empty predicate renders as TRUE.
func (p Predicate) SQL(start int) (string, []any) {
	if len(p.conds) == 0 {
		return "TRUE", nil
	}

	var (
		b    strings.Builder
		args []any
		n    = start
	)
	for i, c := range p.conds {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteByte('(')
		argIdx := 0
		for _, r := range c.sql {
			if r == '?' && argIdx < len(c.args) {
				n++
				b.WriteString("$" + strconv.Itoa(n))
				args = append(args, c.args[argIdx])
				argIdx++
				continue
			}
			b.WriteRune(r)
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// ScopeFor returns the implicit restriction an actor carries for a resource.
// Operators are pinned to their own donations; admins are unrestricted.
func ScopeFor(actor Actor, kind ResourceKind) (Predicate, error) {
	switch actor.Role {
	case RoleAdmin:
		return Predicate{}, nil
	case RoleOperator:
		switch kind {
		case ResourceDonation, ResourceAnalytics:
			return where("donations.operator_id = ?", actor.ID), nil
		case ResourceCategory:
			return Predicate{}, nil
		case ResourceUser, ResourceAudit:
			return Predicate{}, forbidden("admin role required")
		default:
			return Predicate{}, fmt.Errorf("unknown resource kind %q", kind)
		}
	default:
		return Predicate{}, unauthenticated("unknown role")
	}
}

// RequireAdmin rejects every role except ADMIN.
func RequireAdmin(actor Actor) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleOperator:
		return forbidden("admin role required")
	default:
		return unauthenticated("unknown role")
	}
}

// CheckOwnership verifies that actor may access d directly. A foreign
// donation is reported as forbidden, never as missing.
func CheckOwnership(actor Actor, d Donation) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleOperator:
		if d.OperatorID != actor.ID {
			return forbidden("access denied to this donation")
		}
		return nil
	default:
		return unauthenticated("unknown role")
	}
}

// Visibility selects which side of the soft-delete lifecycle a read sees.
type Visibility int

const (
	VisibleActive Visibility = iota
	VisibleDeleted
)

func (v Visibility) predicate() Predicate {
	if v == VisibleDeleted {
		return where("donations.is_deleted = ?", true)
	}
	return where("donations.is_deleted = ?", false)
}

// DonationFilter narrows donation listings. Zero values mean no restriction.
type DonationFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	Purpose       string
	PaymentMethod PaymentMethod
	OperatorID    *uuid.UUID
	CategoryID    *uuid.UUID
	Search        string
	Page          int
	Limit         int
	Visibility    Visibility
}

// Scoped returns a copy of f with any caller supplied operator replaced by
// the actor's own id when the actor is an operator.
func (f DonationFilter) Scoped(actor Actor) DonationFilter {
	switch actor.Role {
	case RoleAdmin:
		return f
	case RoleOperator:
		id := actor.ID
		f.OperatorID = &id
		return f
	default:
		return f
	}
}

func (f DonationFilter) validate() error {
	var v violations
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		v.add("start_date", "must not be after end_date")
	}
	if f.MinAmount != nil && f.MinAmount.IsNegative() {
		v.add("min_amount", "must not be negative")
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		v.add("min_amount", "must not exceed max_amount")
	}
	if f.PaymentMethod != "" && !f.PaymentMethod.Valid() {
		v.add("payment_method", "unknown payment method")
	}
	return v.err()
}

func (f DonationFilter) predicate() Predicate {
	p := f.Visibility.predicate()
	if f.StartDate != nil {
		p = p.and("donations.date >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		p = p.and("donations.date <= ?", *f.EndDate)
	}
	if f.MinAmount != nil {
		p = p.and("donations.amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		p = p.and("donations.amount <= ?", *f.MaxAmount)
	}
	if s := strings.TrimSpace(f.Purpose); s != "" {
		p = p.and("donations.purpose ILIKE ?", containsPattern(s))
	}
	if f.PaymentMethod != "" {
		p = p.and("donations.payment_method = ?", string(f.PaymentMethod))
	}
	if f.OperatorID != nil {
		p = p.and("donations.operator_id = ?", *f.OperatorID)
	}
	if f.CategoryID != nil {
		p = p.and("donations.category_id = ?", *f.CategoryID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pat := containsPattern(s)
		p = p.and("(donations.donor_name ILIKE ? OR donations.donor_phone ILIKE ? OR donations.purpose ILIKE ?)", pat, pat, pat)
	}
	return p
}

// donationScope combines the actor's implicit scope with f. The filter is
// scoped first so an operator cannot widen the result through OperatorID.
func donationScope(actor Actor, f DonationFilter) (Predicate, error) {
	scope, err := ScopeFor(actor, ResourceDonation)
	if err != nil {
		return Predicate{}, err
	}
	if err := f.validate(); err != nil {
		return Predicate{}, err
	}
	return scope.And(f.Scoped(actor).predicate()), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
