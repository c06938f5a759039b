package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DonationInput is the payload of a new donation.
type DonationInput struct {
	DonorName     string
	DonorPhone    string
	DonorEmail    *string
	Amount        decimal.Decimal
	Purpose       string
	PaymentMethod PaymentMethod
	CategoryID    *uuid.UUID
	Notes         string
}

func (in *DonationInput) normalize() {
	in.DonorName = strings.TrimSpace(in.DonorName)
	in.DonorPhone = strings.TrimSpace(in.DonorPhone)
	in.Purpose = strings.TrimSpace(in.Purpose)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.DonorEmail != nil {
		e := normalizeEmail(*in.DonorEmail)
		if e == "" {
			in.DonorEmail = nil
		} else {
			in.DonorEmail = &e
		}
	}
}

func (in DonationInput) validate() error {
	var v violations
	requireText(&v, "donor_name", in.DonorName, maxNameLength)
	checkPhone(&v, "donor_phone", in.DonorPhone, true)
	if in.DonorEmail != nil {
		checkEmail(&v, "donor_email", *in.DonorEmail)
	}
	checkAmount(&v, "amount", in.Amount)
	requireText(&v, "purpose", in.Purpose, maxNameLength)
	if !in.PaymentMethod.Valid() {
		v.add("payment_method", "unknown payment method")
	}
	optionalText(&v, "notes", in.Notes, maxTextLength)
	return v.err()
}

// DonationPatch changes selected fields of a donation. A DonorEmail of ""
// clears the email and a CategoryID of uuid.Nil clears the category.
type DonationPatch struct {
	DonorName     *string
	DonorPhone    *string
	DonorEmail    *string
	Amount        *decimal.Decimal
	Purpose       *string
	PaymentMethod *PaymentMethod
	CategoryID    *uuid.UUID
	Notes         *string
}

func (p DonationPatch) validate() error {
	var v violations
	if p.DonorName != nil {
		requireText(&v, "donor_name", *p.DonorName, maxNameLength)
	}
	if p.DonorPhone != nil {
		checkPhone(&v, "donor_phone", *p.DonorPhone, true)
	}
	if p.DonorEmail != nil && strings.TrimSpace(*p.DonorEmail) != "" {
		checkEmail(&v, "donor_email", normalizeEmail(*p.DonorEmail))
	}
	if p.Amount != nil {
		checkAmount(&v, "amount", *p.Amount)
	}
	if p.Purpose != nil {
		requireText(&v, "purpose", *p.Purpose, maxNameLength)
	}
	if p.PaymentMethod != nil && !p.PaymentMethod.Valid() {
		v.add("payment_method", "unknown payment method")
	}
	if p.Notes != nil {
		optionalText(&v, "notes", *p.Notes, maxTextLength)
	}
	return v.err()
}

func (p DonationPatch) apply(m *donationModel) {
	if p.DonorName != nil {
		m.DonorName = strings.TrimSpace(*p.DonorName)
	}
	if p.DonorPhone != nil {
		m.DonorPhone = strings.TrimSpace(*p.DonorPhone)
	}
	if p.DonorEmail != nil {
		if e := normalizeEmail(*p.DonorEmail); e != "" {
			m.DonorEmail = &e
		} else {
			m.DonorEmail = nil
		}
	}
	if p.Amount != nil {
		m.Amount = *p.Amount
	}
	if p.Purpose != nil {
		m.Purpose = strings.TrimSpace(*p.Purpose)
	}
	if p.PaymentMethod != nil {
		m.PaymentMethod = string(*p.PaymentMethod)
	}
	if p.CategoryID != nil {
		if *p.CategoryID == uuid.Nil {
			m.CategoryID = nil
		} else {
			id := *p.CategoryID
			m.CategoryID = &id
		}
	}
	if p.Notes != nil {
		m.Notes = strings.TrimSpace(*p.Notes)
	}
}

// DonationPage is one page of a donation listing plus the total amount of
// every matching donation.
type DonationPage struct {
	Donations   []Donation      `json:"donations"`
	Pagination  Pagination      `json:"pagination"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// assignableCategory loads a category for a donation write. The row is
// share-locked so it cannot be deactivated or deleted before commit.
func assignableCategory(tx *gorm.DB, id uuid.UUID) (categoryModel, error) {
	var c categoryModel
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Where("donation_categories.id = ?", id).
		First(&c).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return categoryModel{}, invalid(FieldViolation{Field: "category_id", Message: "category does not exist"})
	case err != nil:
		return categoryModel{}, err
	case !c.IsActive:
		return categoryModel{}, invalid(FieldViolation{Field: "category_id", Message: "category is inactive"})
	}
	return c, nil
}

// CreateDonation records a donation owned by actor and publishes a receipt
// event once committed.
func (s *Service) CreateDonation(ctx context.Context, actor Actor, in DonationInput) (Donation, error) {
	if _, err := ScopeFor(actor, ResourceDonation); err != nil {
		return Donation{}, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return Donation{}, err
	}

	return Execute(ctx, s.coord, Mutation[Donation]{
		Action: ActionDonationCreated,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (Donation, error) {
			var cat *categoryModel
			if in.CategoryID != nil {
				c, err := assignableCategory(tx, *in.CategoryID)
				if err != nil {
					return Donation{}, err
				}
				cat = &c
			}

			m := donationModel{
				ID:            uuid.New(),
				DonorName:     in.DonorName,
				DonorPhone:    in.DonorPhone,
				DonorEmail:    in.DonorEmail,
				Amount:        in.Amount,
				Purpose:       in.Purpose,
				PaymentMethod: string(in.PaymentMethod),
				CategoryID:    in.CategoryID,
				OperatorID:    actor.ID,
				Date:          s.now().UTC(),
				Notes:         in.Notes,
			}
			if err := tx.Omit(clause.Associations).Create(&m).Error; err != nil {
				return Donation{}, err
			}

			m.Category = cat
			d := m.toDomain()
			d.Operator = &OperatorRef{ID: actor.ID, Name: actor.Name}
			return d, nil
		},
		Audit: func(d Donation) AuditSpec {
			meta := map[string]any{
				"amount":         d.Amount.StringFixed(2),
				"donor_name":     d.DonorName,
				"purpose":        d.Purpose,
				"payment_method": string(d.PaymentMethod),
			}
			if d.CategoryID != nil {
				meta["category_id"] = d.CategoryID.String()
			}
			return AuditSpec{
				Action:      ActionDonationCreated,
				EntityType:  EntityDonation,
				EntityID:    &d.ID,
				Description: fmt.Sprintf("Recorded donation of %s from %s", d.Amount.StringFixed(2), d.DonorName),
				Metadata:    meta,
			}
		},
		AfterCommit: func(ctx context.Context, d Donation) error {
			return s.notifier.Notify(ctx, SubjectDonationCreated, DonationCreatedEvent{
				DonationID:    d.ID,
				DonorName:     d.DonorName,
				DonorEmail:    d.DonorEmail,
				Amount:        d.Amount,
				Purpose:       d.Purpose,
				PaymentMethod: d.PaymentMethod,
				OperatorID:    d.OperatorID,
				Date:          d.Date,
			})
		},
	})
}

// UpdateDonation changes an active donation. Operators may only change their
// own donations.
func (s *Service) UpdateDonation(ctx context.Context, actor Actor, id uuid.UUID, patch DonationPatch) (Donation, error) {
	if _, err := ScopeFor(actor, ResourceDonation); err != nil {
		return Donation{}, err
	}
	if err := patch.validate(); err != nil {
		return Donation{}, err
	}

	type updated struct {
		donation Donation
		changes  map[string]map[string]any
	}

	out, err := Execute(ctx, s.coord, Mutation[updated]{
		Action: ActionDonationUpdated,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (updated, error) {
			m, err := lockDonation(tx, id)
			if err != nil {
				return updated{}, err
			}
			if m.IsDeleted {
				return updated{}, notFound("donation")
			}
			if err := CheckOwnership(actor, m.toDomain()); err != nil {
				return updated{}, err
			}

			before := m.snapshot()
			patch.apply(&m)
			if patch.CategoryID != nil && m.CategoryID != nil {
				if _, err := assignableCategory(tx, *m.CategoryID); err != nil {
					return updated{}, err
				}
			}

			err = tx.Model(&donationModel{}).
				Where("donations.id = ?", id).
				Updates(map[string]any{
					"donor_name":     m.DonorName,
					"donor_phone":    m.DonorPhone,
					"donor_email":    m.DonorEmail,
					"amount":         m.Amount,
					"purpose":        m.Purpose,
					"payment_method": m.PaymentMethod,
					"category_id":    m.CategoryID,
					"notes":          m.Notes,
				}).Error
			if err != nil {
				return updated{}, err
			}

			if err := tx.Preload("Category").Preload("Operator").Where("donations.id = ?", id).First(&m).Error; err != nil {
				return updated{}, err
			}
			return updated{donation: m.toDomain(), changes: computeDiff(before, m.snapshot())}, nil
		},
		Audit: func(u updated) AuditSpec {
			return AuditSpec{
				Action:      ActionDonationUpdated,
				EntityType:  EntityDonation,
				EntityID:    &u.donation.ID,
				Description: fmt.Sprintf("Updated donation from %s", u.donation.DonorName),
				Metadata:    map[string]any{"changes": u.changes},
			}
		},
	})
	if err != nil {
		return Donation{}, err
	}
	return out.donation, nil
}

// GetDonation returns an active donation. An operator asking for another
// operator's donation is forbidden rather than told it does not exist.
func (s *Service) GetDonation(ctx context.Context, actor Actor, id uuid.UUID) (Donation, error) {
	if _, err := ScopeFor(actor, ResourceDonation); err != nil {
		return Donation{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var m donationModel
	err := s.store.ORM.WithContext(ctx).
		Preload("Category").
		Preload("Operator").
		Where("donations.id = ? AND donations.is_deleted = ?", id, false).
		First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Donation{}, notFound("donation")
	case err != nil:
		return Donation{}, classify(err)
	}

	d := m.toDomain()
	if err := CheckOwnership(actor, d); err != nil {
		return Donation{}, err
	}
	return d, nil
}

// ListDonations returns active donations visible to actor, newest first.
func (s *Service) ListDonations(ctx context.Context, actor Actor, f DonationFilter) (DonationPage, error) {
	f.Visibility = VisibleActive
	return s.listDonations(ctx, actor, f)
}

func (s *Service) listDonations(ctx context.Context, actor Actor, f DonationFilter) (DonationPage, error) {
	pred, err := donationScope(actor, f)
	if err != nil {
		return DonationPage{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	page, limit := normalizePage(f.Page, f.Limit)
	orm := s.store.ORM.WithContext(ctx)

	var total int64
	if err := pred.Apply(orm.Model(&donationModel{})).Count(&total).Error; err != nil {
		return DonationPage{}, classify(err)
	}

	var sum decimal.NullDecimal
	if err := pred.Apply(orm.Model(&donationModel{})).Select("SUM(donations.amount)").Row().Scan(&sum); err != nil {
		return DonationPage{}, classify(err)
	}

	var rows []donationModel
	err = pred.Apply(orm.Model(&donationModel{})).
		Preload("Category").
		Preload("Operator").
		Order("donations.date DESC").
		Order("donations.id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return DonationPage{}, classify(err)
	}

	out := DonationPage{
		Donations:   make([]Donation, 0, len(rows)),
		Pagination:  newPagination(page, limit, total),
		TotalAmount: decimal.Zero,
	}
	if sum.Valid {
		out.TotalAmount = sum.Decimal
	}
	for _, r := range rows {
		out.Donations = append(out.Donations, r.toDomain())
	}
	return out, nil
}

// ExportDonations returns up to max active donations visible to actor, newest
// first. truncated reports whether more rows matched.
func (s *Service) ExportDonations(ctx context.Context, actor Actor, f DonationFilter, max int) ([]Donation, bool, error) {
	if max <= 0 {
		return nil, false, invalid(FieldViolation{Field: "limit", Message: "must be positive"})
	}
	f.Visibility = VisibleActive
	pred, err := donationScope(actor, f)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []donationModel
	err = pred.Apply(s.store.ORM.WithContext(ctx).Model(&donationModel{})).
		Preload("Category").
		Preload("Operator").
		Order("donations.date DESC").
		Order("donations.id DESC").
		Limit(max + 1).
		Find(&rows).Error
	if err != nil {
		return nil, false, classify(err)
	}

	truncated := len(rows) > max
	if truncated {
		rows = rows[:max]
	}
	out := make([]Donation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, truncated, nil
}
