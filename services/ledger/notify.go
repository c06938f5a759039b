package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donatrack/pkg/bus"
)

const (
	// StreamDonations holds every donation event subject.
	StreamDonations = "DONATIONS"
	// SubjectDonationCreated carries DonationCreatedEvent after a donation commit.
	SubjectDonationCreated = "donatrack.donations.created"
)

// Dispatcher delivers fire-and-forget notifications.
type Dispatcher interface {
	Notify(ctx context.Context, channel string, payload any) error
}

// DonationCreatedEvent is published once a donation and its audit entry are
// committed.
type DonationCreatedEvent struct {
	DonationID    uuid.UUID       `json:"donation_id"`
	DonorName     string          `json:"donor_name"`
	DonorEmail    *string         `json:"donor_email"`
	Amount        decimal.Decimal `json:"amount"`
	Purpose       string          `json:"purpose"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	OperatorID    uuid.UUID       `json:"operator_id"`
	Date          time.Time       `json:"date"`
}

// BusDispatcher publishes notifications as JSON on the message bus.
type BusDispatcher struct {
	Bus *bus.Bus
}

func (d BusDispatcher) Notify(ctx context.Context, channel string, payload any) error {
	return d.Bus.Publish(ctx, channel, payload)
}

type nopDispatcher struct{}

func (nopDispatcher) Notify(context.Context, string, any) error { return nil }
