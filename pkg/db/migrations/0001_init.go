package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email        string     `gorm:"type:text;uniqueIndex;not null"`
	PasswordHash string     `gorm:"type:text;not null"`
	Name         string     `gorm:"type:text;not null"`
	Phone        string     `gorm:"type:text"`
	Role         string     `gorm:"type:text;not null;check:role IN ('ADMIN','OPERATOR')"`
	IsActive     bool       `gorm:"type:boolean;not null;default:true"`
	LastLogin    *time.Time `gorm:"type:timestamptz"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type DonationCategory struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	Icon        string    `gorm:"type:text"`
	Color       string    `gorm:"type:text"`
	IsActive    bool      `gorm:"type:boolean;not null;default:true"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Donation struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	DonorName      string            `gorm:"type:text;not null"`
	DonorPhone     string            `gorm:"type:text;not null;index"`
	DonorEmail     *string           `gorm:"type:text"`
	Amount         decimal.Decimal   `gorm:"type:numeric(14,2);not null;check:amount > 0"`
	Purpose        string            `gorm:"type:text;not null"`
	PaymentMethod  string            `gorm:"type:text;not null"`
	CategoryID     *uuid.UUID        `gorm:"type:uuid;index"`
	OperatorID     uuid.UUID         `gorm:"type:uuid;not null;index"`
	Date           time.Time         `gorm:"type:timestamptz;not null;default:now();index"`
	Notes          string            `gorm:"type:text"`
	EmailSent      bool              `gorm:"type:boolean;not null;default:false"`
	EmailSentAt    *time.Time        `gorm:"type:timestamptz"`
	EmailError     *string           `gorm:"type:text"`
	IsDeleted      bool              `gorm:"type:boolean;not null;default:false;index"`
	DeletedAt      *time.Time        `gorm:"type:timestamptz"`
	DeletedBy      *uuid.UUID        `gorm:"type:uuid"`
	DeletionReason *string           `gorm:"type:text"`
	UpdatedAt      time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Category       *DonationCategory `gorm:"foreignKey:CategoryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Operator       User              `gorm:"foreignKey:OperatorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type AuditLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Action      string         `gorm:"type:text;not null;index"`
	EntityType  string         `gorm:"type:text;not null"`
	EntityID    *uuid.UUID     `gorm:"type:uuid"`
	Description string         `gorm:"type:text;not null"`
	UserID      *uuid.UUID     `gorm:"type:uuid;index"`
	UserRole    string         `gorm:"type:text"`
	IPAddress   string         `gorm:"type:text"`
	UserAgent   string         `gorm:"type:text"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	Timestamp   time.Time      `gorm:"type:timestamptz;not null;default:now();index"`
}

const softDeleteConsistency = `
ALTER TABLE donations ADD CONSTRAINT donations_deletion_consistent CHECK (
	(is_deleted = false AND deleted_at IS NULL AND deleted_by IS NULL AND deletion_reason IS NULL)
	OR (is_deleted = true AND deleted_at IS NOT NULL AND deleted_by IS NOT NULL)
)`

const auditAppendOnly = `
CREATE OR REPLACE FUNCTION audit_logs_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit_logs is append-only';
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER audit_logs_no_update_delete
	BEFORE UPDATE OR DELETE ON audit_logs
	FOR EACH ROW EXECUTE FUNCTION audit_logs_append_only();
`

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&User{},
		&DonationCategory{},
		&Donation{},
		&AuditLog{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	for _, rel := range []string{"Category", "Operator"} {
		if m.HasConstraint(&Donation{}, rel) {
			continue
		}
		if err := m.CreateConstraint(&Donation{}, rel); err != nil {
			return err
		}
	}

	for _, stmt := range []string{softDeleteConsistency, auditAppendOnly} {
		if err := gormDB.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Exec(`DROP TRIGGER IF EXISTS audit_logs_no_update_delete ON audit_logs`).Error; err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&AuditLog{},
		&Donation{},
		&DonationCategory{},
		&User{},
	); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Exec(`DROP FUNCTION IF EXISTS audit_logs_append_only()`).Error
}
