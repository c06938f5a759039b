package ledger

import (
	"time"

	"github.com/google/uuid"
)

type userModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email        string     `gorm:"type:text;not null"`
	PasswordHash string     `gorm:"type:text;not null"`
	Name         string     `gorm:"type:text;not null"`
	Phone        string     `gorm:"type:text"`
	Role         string     `gorm:"type:text;not null"`
	IsActive     bool       `gorm:"type:boolean;not null;default:true"`
	LastLogin    *time.Time `gorm:"type:timestamptz"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"type:timestamptz;not null;autoUpdateTime"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toDomain() User {
	return User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Phone:     m.Phone,
		Role:      Role(m.Role),
		IsActive:  m.IsActive,
		LastLogin: m.LastLogin,
		CreatedAt: m.CreatedAt,
	}
}

func (m userModel) snapshot() map[string]any {
	return map[string]any{
		"email":     m.Email,
		"name":      m.Name,
		"phone":     m.Phone,
		"role":      m.Role,
		"is_active": m.IsActive,
	}
}
