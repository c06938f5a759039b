package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type auditModel struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Action      string         `gorm:"type:text;not null"`
	EntityType  string         `gorm:"type:text;not null"`
	EntityID    *uuid.UUID     `gorm:"type:uuid"`
	Description string         `gorm:"type:text;not null"`
	UserID      *uuid.UUID     `gorm:"type:uuid"`
	UserRole    string         `gorm:"type:text"`
	IPAddress   string         `gorm:"type:text"`
	UserAgent   string         `gorm:"type:text"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null"`
	Timestamp   time.Time      `gorm:"type:timestamptz;not null"`
}

func (auditModel) TableName() string { return "audit_logs" }

func (m auditModel) toDomain() AuditEntry {
	return AuditEntry{
		ID:          m.ID,
		Action:      Action(m.Action),
		EntityType:  EntityType(m.EntityType),
		EntityID:    m.EntityID,
		Description: m.Description,
		UserID:      m.UserID,
		UserRole:    m.UserRole,
		IPAddress:   m.IPAddress,
		UserAgent:   m.UserAgent,
		Metadata:    json.RawMessage(m.Metadata),
		Timestamp:   m.Timestamp,
	}
}
