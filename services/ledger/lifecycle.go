package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LifecycleState is the visibility state of a donation.
type LifecycleState string

const (
	StateActive  LifecycleState = "ACTIVE"
	StateDeleted LifecycleState = "DELETED"
)

// DefaultDeletionReason is stored when a delete carries no reason.
const DefaultDeletionReason = "No reason provided"

// Transition validates a move from s to to. Only ACTIVE to DELETED and
// DELETED to ACTIVE are allowed; anything else is a conflict.
func (s LifecycleState) Transition(to LifecycleState) (LifecycleState, error) {
	switch s {
	case StateActive:
		if to == StateDeleted {
			return to, nil
		}
		return s, conflictf("donation is not deleted")
	case StateDeleted:
		if to == StateActive {
			return to, nil
		}
		return s, conflictf("donation is already deleted")
	default:
		return s, fmt.Errorf("unknown lifecycle state %q", s)
	}
}

func lockDonation(tx *gorm.DB, id uuid.UUID) (donationModel, error) {
	var m donationModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("donations.id = ?", id).
		First(&m).Error
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return donationModel{}, notFound("donation")
	default:
		return donationModel{}, err
	}
}

// DeleteDonation hides an active donation from every default read path.
func (s *Service) DeleteDonation(ctx context.Context, actor Actor, id uuid.UUID, reason string) (Donation, error) {
	if err := RequireAdmin(actor); err != nil {
		return Donation{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultDeletionReason
	}

	return Execute(ctx, s.coord, Mutation[Donation]{
		Action: ActionDonationDeleted,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (Donation, error) {
			m, err := lockDonation(tx, id)
			if err != nil {
				return Donation{}, err
			}
			if _, err := m.toDomain().State().Transition(StateDeleted); err != nil {
				return Donation{}, err
			}

			at := s.now().UTC()
			by := actor.ID
			res := tx.Model(&donationModel{}).
				Where("donations.id = ? AND donations.is_deleted = ?", id, false).
				Updates(map[string]any{
					"is_deleted":      true,
					"deleted_at":      at,
					"deleted_by":      by,
					"deletion_reason": reason,
				})
			if res.Error != nil {
				return Donation{}, res.Error
			}
			if res.RowsAffected == 0 {
				return Donation{}, conflictf("donation is already deleted")
			}

			m.IsDeleted = true
			m.DeletedAt = &at
			m.DeletedBy = &by
			m.DeletionReason = &reason
			return m.toDomain(), nil
		},
		Audit: func(d Donation) AuditSpec {
			return AuditSpec{
				Action:      ActionDonationDeleted,
				EntityType:  EntityDonation,
				EntityID:    &d.ID,
				Description: fmt.Sprintf("Deleted donation of %s from %s", d.Amount.StringFixed(2), d.DonorName),
				Metadata: map[string]any{
					"reason":     reason,
					"amount":     d.Amount.StringFixed(2),
					"donor_name": d.DonorName,
				},
			}
		},
	})
}

// RestoreDonation returns a deleted donation to the active state, clearing
// every deletion field.
func (s *Service) RestoreDonation(ctx context.Context, actor Actor, id uuid.UUID) (Donation, error) {
	if err := RequireAdmin(actor); err != nil {
		return Donation{}, err
	}

	return Execute(ctx, s.coord, Mutation[Donation]{
		Action: ActionDonationRestored,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (Donation, error) {
			m, err := lockDonation(tx, id)
			if err != nil {
				return Donation{}, err
			}
			if _, err := m.toDomain().State().Transition(StateActive); err != nil {
				return Donation{}, err
			}

			res := tx.Model(&donationModel{}).
				Where("donations.id = ? AND donations.is_deleted = ?", id, true).
				Updates(map[string]any{
					"is_deleted":      false,
					"deleted_at":      nil,
					"deleted_by":      nil,
					"deletion_reason": nil,
				})
			if res.Error != nil {
				return Donation{}, res.Error
			}
			if res.RowsAffected == 0 {
				return Donation{}, conflictf("donation is not deleted")
			}

			m.IsDeleted = false
			m.DeletedAt = nil
			m.DeletedBy = nil
			m.DeletionReason = nil
			return m.toDomain(), nil
		},
		Audit: func(d Donation) AuditSpec {
			return AuditSpec{
				Action:      ActionDonationRestored,
				EntityType:  EntityDonation,
				EntityID:    &d.ID,
				Description: fmt.Sprintf("Restored donation of %s from %s", d.Amount.StringFixed(2), d.DonorName),
				Metadata: map[string]any{
					"amount":     d.Amount.StringFixed(2),
					"donor_name": d.DonorName,
				},
			}
		},
	})
}

// ListDeletedDonations is the admin view over soft-deleted donations.
func (s *Service) ListDeletedDonations(ctx context.Context, actor Actor, f DonationFilter) (DonationPage, error) {
	if err := RequireAdmin(actor); err != nil {
		return DonationPage{}, err
	}
	f.Visibility = VisibleDeleted
	return s.listDonations(ctx, actor, f)
}
