package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleOperator:
		return RoleOperator, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// PaymentMethod is the closed set of accepted payment channels.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentUPI          PaymentMethod = "UPI"
	PaymentCard         PaymentMethod = "CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentCheque       PaymentMethod = "CHEQUE"
	PaymentOnline       PaymentMethod = "ONLINE"
)

var paymentMethods = map[PaymentMethod]struct{}{
	PaymentCash:         {},
	PaymentUPI:          {},
	PaymentCard:         {},
	PaymentBankTransfer: {},
	PaymentCheque:       {},
	PaymentOnline:       {},
}

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	_, ok := paymentMethods[m]
	return ok
}

// Actor is the authenticated identity performing a request together with the
// origin details recorded on audit entries.
type Actor struct {
	ID        uuid.UUID
	Role      Role
	Name      string
	IPAddress string
	UserAgent string
}

// SystemActor is used for maintenance tasks such as seeding. Its audit entries
// carry no user id.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleAdmin, Name: "system", IPAddress: "127.0.0.1", UserAgent: "donatrackctl"}
}

// User is an account able to record donations.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
}

// Category groups donations for reporting.
type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Color       string    `json:"color"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	// DonationCount is only populated by listings; nil means not computed.
	DonationCount *int64 `json:"donation_count"`
}

// Deletion holds the soft-delete details of a donation.
type Deletion struct {
	At     time.Time `json:"at"`
	By     uuid.UUID `json:"by"`
	Reason string    `json:"reason"`
}

// EmailStatus is receipt delivery bookkeeping owned by the notifier.
type EmailStatus struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at"`
	Error  *string    `json:"error"`
}

// CategoryRef and OperatorRef are the embedded summaries attached to listings.
type CategoryRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color"`
	Icon  string    `json:"icon"`
}

type OperatorRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Donation is one recorded contribution. A nil Deletion means the donation is
// active.
type Donation struct {
	ID            uuid.UUID       `json:"id"`
	DonorName     string          `json:"donor_name"`
	DonorPhone    string          `json:"donor_phone"`
	DonorEmail    *string         `json:"donor_email"`
	Amount        decimal.Decimal `json:"amount"`
	Purpose       string          `json:"purpose"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CategoryID    *uuid.UUID      `json:"category_id"`
	OperatorID    uuid.UUID       `json:"operator_id"`
	Date          time.Time       `json:"date"`
	Notes         string          `json:"notes"`
	Email         EmailStatus     `json:"email"`
	Deletion      *Deletion       `json:"deletion"`
	Category      *CategoryRef    `json:"category"`
	Operator      *OperatorRef    `json:"operator"`
}

// State reports the lifecycle state derived from Deletion.
func (d Donation) State() LifecycleState {
	if d.Deletion != nil {
		return StateDeleted
	}
	return StateActive
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func newPagination(page, limit int, total int64) Pagination {
	pages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}
