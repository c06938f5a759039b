package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type donationModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	DonorName      string          `gorm:"type:text;not null"`
	DonorPhone     string          `gorm:"type:text;not null"`
	DonorEmail     *string         `gorm:"type:text"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Purpose        string          `gorm:"type:text;not null"`
	PaymentMethod  string          `gorm:"type:text;not null"`
	CategoryID     *uuid.UUID      `gorm:"type:uuid"`
	OperatorID     uuid.UUID       `gorm:"type:uuid;not null"`
	Date           time.Time       `gorm:"type:timestamptz;not null"`
	Notes          string          `gorm:"type:text"`
	EmailSent      bool            `gorm:"type:boolean;not null;default:false"`
	EmailSentAt    *time.Time      `gorm:"type:timestamptz"`
	EmailError     *string         `gorm:"type:text"`
	IsDeleted      bool            `gorm:"type:boolean;not null;default:false"`
	DeletedAt      *time.Time      `gorm:"type:timestamptz"`
	DeletedBy      *uuid.UUID      `gorm:"type:uuid"`
	DeletionReason *string         `gorm:"type:text"`
	UpdatedAt      time.Time       `gorm:"type:timestamptz;not null;autoUpdateTime"`

	Category *categoryModel `gorm:"foreignKey:CategoryID;references:ID"`
	Operator *userModel     `gorm:"foreignKey:OperatorID;references:ID"`
}

func (donationModel) TableName() string { return "donations" }

func (m donationModel) toDomain() Donation {
	d := Donation{
		ID:            m.ID,
		DonorName:     m.DonorName,
		DonorPhone:    m.DonorPhone,
		DonorEmail:    m.DonorEmail,
		Amount:        m.Amount,
		Purpose:       m.Purpose,
		PaymentMethod: PaymentMethod(m.PaymentMethod),
		CategoryID:    m.CategoryID,
		OperatorID:    m.OperatorID,
		Date:          m.Date,
		Notes:         m.Notes,
		Email: EmailStatus{
			Sent:   m.EmailSent,
			SentAt: m.EmailSentAt,
			Error:  m.EmailError,
		},
	}

	if m.IsDeleted {
		del := Deletion{}
		if m.DeletedAt != nil {
			del.At = *m.DeletedAt
		}
		if m.DeletedBy != nil {
			del.By = *m.DeletedBy
		}
		if m.DeletionReason != nil {
			del.Reason = *m.DeletionReason
		}
		d.Deletion = &del
	}

	if m.Category != nil {
		d.Category = &CategoryRef{ID: m.Category.ID, Name: m.Category.Name, Color: m.Category.Color, Icon: m.Category.Icon}
	}
	if m.Operator != nil {
		d.Operator = &OperatorRef{ID: m.Operator.ID, Name: m.Operator.Name}
	}

	return d
}

// snapshot is the field set compared when an update is audited.
func (m donationModel) snapshot() map[string]any {
	snap := map[string]any{
		"donor_name":     m.DonorName,
		"donor_phone":    m.DonorPhone,
		"amount":         m.Amount.StringFixed(2),
		"purpose":        m.Purpose,
		"payment_method": m.PaymentMethod,
		"notes":          m.Notes,
		"donor_email":    nil,
		"category_id":    nil,
	}
	if m.DonorEmail != nil {
		snap["donor_email"] = *m.DonorEmail
	}
	if m.CategoryID != nil {
		snap["category_id"] = m.CategoryID.String()
	}
	return snap
}
