package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxCategoryNameLength = 100

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// CategoryInput is the payload of a new category.
type CategoryInput struct {
	Name        string
	Description string
	Icon        string
	Color       string
}

func (in *CategoryInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Icon = strings.TrimSpace(in.Icon)
	in.Color = strings.TrimSpace(in.Color)
}

func (in CategoryInput) validate() error {
	var v violations
	requireText(&v, "name", in.Name, maxCategoryNameLength)
	optionalText(&v, "description", in.Description, maxTextLength)
	optionalText(&v, "icon", in.Icon, maxCategoryNameLength)
	if in.Color != "" && !hexColor.MatchString(in.Color) {
		v.add("color", "must be a #RRGGBB hex color")
	}
	return v.err()
}

// CategoryPatch changes selected fields of a category.
type CategoryPatch struct {
	Name        *string
	Description *string
	Icon        *string
	Color       *string
}

func (p CategoryPatch) validate() error {
	var v violations
	if p.Name != nil {
		requireText(&v, "name", *p.Name, maxCategoryNameLength)
	}
	if p.Description != nil {
		optionalText(&v, "description", *p.Description, maxTextLength)
	}
	if p.Icon != nil {
		optionalText(&v, "icon", *p.Icon, maxCategoryNameLength)
	}
	if p.Color != nil && *p.Color != "" && !hexColor.MatchString(strings.TrimSpace(*p.Color)) {
		v.add("color", "must be a #RRGGBB hex color")
	}
	return v.err()
}

func lockCategory(tx *gorm.DB, id uuid.UUID) (categoryModel, error) {
	var m categoryModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("donation_categories.id = ?", id).
		First(&m).Error
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return categoryModel{}, notFound("category")
	default:
		return categoryModel{}, err
	}
}

// ensureNameFree is the in-transaction pre-check; the unique index on name
// still decides between concurrent writers.
func ensureNameFree(tx *gorm.DB, name string, except uuid.UUID) error {
	var n int64
	err := tx.Model(&categoryModel{}).
		Where("donation_categories.name = ? AND donation_categories.id <> ?", name, except).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return conflictf("category name already exists")
	}
	return nil
}

// CreateCategory adds an active category.
func (s *Service) CreateCategory(ctx context.Context, actor Actor, in CategoryInput) (Category, error) {
	if err := RequireAdmin(actor); err != nil {
		return Category{}, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return Category{}, err
	}

	return Execute(ctx, s.coord, Mutation[Category]{
		Action: ActionCategoryCreated,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (Category, error) {
			if err := ensureNameFree(tx, in.Name, uuid.Nil); err != nil {
				return Category{}, err
			}
			m := categoryModel{
				ID:          uuid.New(),
				Name:        in.Name,
				Description: in.Description,
				Icon:        in.Icon,
				Color:       in.Color,
				IsActive:    true,
			}
			if err := tx.Create(&m).Error; err != nil {
				return Category{}, err
			}
			return m.toDomain(), nil
		},
		Audit: func(c Category) AuditSpec {
			return AuditSpec{
				Action:      ActionCategoryCreated,
				EntityType:  EntityCategory,
				EntityID:    &c.ID,
				Description: fmt.Sprintf("Created category %s", c.Name),
				Metadata:    map[string]any{"name": c.Name},
			}
		},
	})
}

// UpdateCategory changes the descriptive fields of a category.
func (s *Service) UpdateCategory(ctx context.Context, actor Actor, id uuid.UUID, patch CategoryPatch) (Category, error) {
	if err := RequireAdmin(actor); err != nil {
		return Category{}, err
	}
	if err := patch.validate(); err != nil {
		return Category{}, err
	}

	type updated struct {
		category Category
		changes  map[string]map[string]any
	}

	out, err := Execute(ctx, s.coord, Mutation[updated]{
		Action: ActionCategoryUpdated,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (updated, error) {
			m, err := lockCategory(tx, id)
			if err != nil {
				return updated{}, err
			}
			before := m.snapshot()

			if patch.Name != nil {
				name := strings.TrimSpace(*patch.Name)
				if name != m.Name {
					if err := ensureNameFree(tx, name, id); err != nil {
						return updated{}, err
					}
				}
				m.Name = name
			}
			if patch.Description != nil {
				m.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.Icon != nil {
				m.Icon = strings.TrimSpace(*patch.Icon)
			}
			if patch.Color != nil {
				m.Color = strings.TrimSpace(*patch.Color)
			}

			err = tx.Model(&categoryModel{}).
				Where("donation_categories.id = ?", id).
				Updates(map[string]any{
					"name":        m.Name,
					"description": m.Description,
					"icon":        m.Icon,
					"color":       m.Color,
				}).Error
			if err != nil {
				return updated{}, err
			}
			return updated{category: m.toDomain(), changes: computeDiff(before, m.snapshot())}, nil
		},
		Audit: func(u updated) AuditSpec {
			return AuditSpec{
				Action:      ActionCategoryUpdated,
				EntityType:  EntityCategory,
				EntityID:    &u.category.ID,
				Description: fmt.Sprintf("Updated category %s", u.category.Name),
				Metadata:    map[string]any{"changes": u.changes},
			}
		},
	})
	if err != nil {
		return Category{}, err
	}
	return out.category, nil
}

// ToggleCategory flips whether a category can be assigned to new donations.
func (s *Service) ToggleCategory(ctx context.Context, actor Actor, id uuid.UUID) (Category, error) {
	if err := RequireAdmin(actor); err != nil {
		return Category{}, err
	}

	return Execute(ctx, s.coord, Mutation[Category]{
		Action: ActionCategoryToggled,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (Category, error) {
			m, err := lockCategory(tx, id)
			if err != nil {
				return Category{}, err
			}
			m.IsActive = !m.IsActive
			err = tx.Model(&categoryModel{}).
				Where("donation_categories.id = ?", id).
				Update("is_active", m.IsActive).Error
			if err != nil {
				return Category{}, err
			}
			return m.toDomain(), nil
		},
		Audit: func(c Category) AuditSpec {
			state := "Deactivated"
			if c.IsActive {
				state = "Activated"
			}
			return AuditSpec{
				Action:      ActionCategoryToggled,
				EntityType:  EntityCategory,
				EntityID:    &c.ID,
				Description: fmt.Sprintf("%s category %s", state, c.Name),
				Metadata:    map[string]any{"is_active": c.IsActive},
			}
		},
	})
}

// DeleteCategory removes a category that no donation references, deleted
// donations included. Referenced categories can only be toggled off.
func (s *Service) DeleteCategory(ctx context.Context, actor Actor, id uuid.UUID) (Category, error) {
	if err := RequireAdmin(actor); err != nil {
		return Category{}, err
	}

	return Execute(ctx, s.coord, Mutation[Category]{
		Action: ActionCategoryDeleted,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (Category, error) {
			m, err := lockCategory(tx, id)
			if err != nil {
				return Category{}, err
			}

			var n int64
			if err := tx.Model(&donationModel{}).Where("donations.category_id = ?", id).Count(&n).Error; err != nil {
				return Category{}, err
			}
			if n > 0 {
				return Category{}, conflictf("category has %d donations; deactivate it instead", n)
			}

			if err := tx.Where("donation_categories.id = ?", id).Delete(&categoryModel{}).Error; err != nil {
				return Category{}, err
			}
			return m.toDomain(), nil
		},
		Audit: func(c Category) AuditSpec {
			return AuditSpec{
				Action:      ActionCategoryDeleted,
				EntityType:  EntityCategory,
				EntityID:    &c.ID,
				Description: fmt.Sprintf("Deleted category %s", c.Name),
				Metadata:    map[string]any{"name": c.Name},
			}
		},
	})
}

type categoryRow struct {
	ID            uuid.UUID `db:"id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	Icon          string    `db:"icon"`
	Color         string    `db:"color"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	DonationCount int64     `db:"donation_count"`
}

// ListCategories returns categories ordered by name with the number of active
// donations the actor can see in each.
func (s *Service) ListCategories(ctx context.Context, actor Actor, includeInactive bool) ([]Category, error) {
	if _, err := ScopeFor(actor, ResourceCategory); err != nil {
		return nil, err
	}
	scope, err := ScopeFor(actor, ResourceDonation)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	join, args := scope.And(VisibleActive.predicate()).SQL(0)
	filter := ""
	if !includeInactive {
		filter = "WHERE c.is_active = true"
	}

	var rows []categoryRow
	err = pgxscan.Select(ctx, s.store.DB, &rows, `
SELECT c.id, c.name, COALESCE(c.description, '') AS description, COALESCE(c.icon, '') AS icon,
	COALESCE(c.color, '') AS color, c.is_active, c.created_at, COUNT(donations.id) AS donation_count
FROM donation_categories c
LEFT JOIN donations ON donations.category_id = c.id AND `+join+`
`+filter+`
GROUP BY c.id
ORDER BY c.name ASC
`, args...)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]Category, 0, len(rows))
	for _, r := range rows {
		count := r.DonationCount
		out = append(out, Category{
			ID:            r.ID,
			Name:          r.Name,
			Description:   r.Description,
			Icon:          r.Icon,
			Color:         r.Color,
			IsActive:      r.IsActive,
			CreatedAt:     r.CreatedAt,
			DonationCount: &count,
		})
	}
	return out, nil
}
