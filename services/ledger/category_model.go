package ledger

import (
	"time"

	"github.com/google/uuid"
)

type categoryModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	Icon        string    `gorm:"type:text"`
	Color       string    `gorm:"type:text"`
	IsActive    bool      `gorm:"type:boolean;not null;default:true"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;autoUpdateTime"`
}

func (categoryModel) TableName() string { return "donation_categories" }

func (m categoryModel) toDomain() Category {
	return Category{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Color:       m.Color,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
	}
}

func (m categoryModel) snapshot() map[string]any {
	return map[string]any{
		"name":        m.Name,
		"description": m.Description,
		"icon":        m.Icon,
		"color":       m.Color,
		"is_active":   m.IsActive,
	}
}
