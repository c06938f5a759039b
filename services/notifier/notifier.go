package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"donatrack/pkg/render"
	"donatrack/services/ledger"
)

const (
	durableName    = "notifier-receipts"
	maxErrorLength = 500
)

// Subscriber delivers bus messages to a handler until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Mailer delivers one rendered message.
type Mailer interface {
	Send(ctx context.Context, to, message string) error
}

// StatusStore owns the receipt bookkeeping columns of a donation.
type StatusStore interface {
	Sent(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Options configures a Notifier.
type Options struct {
	Organization string
	Location     *time.Location
	Logger       zerolog.Logger
	Registerer   prometheus.Registerer
}

// Notifier turns donation created events into emailed receipts.
type Notifier struct {
	sub      Subscriber
	mailer   Mailer
	status   StatusStore
	renderer *render.Engine
	org      string
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
	receipts *prometheus.CounterVec

	subMu  sync.Mutex
	closer io.Closer
}

// New constructs a Notifier for the provided dependencies.
func New(sub Subscriber, mailer Mailer, status StatusStore, renderer *render.Engine, opts Options) (*Notifier, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if status == nil {
		return nil, errors.New("status store is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Organization == "" {
		opts.Organization = "Donatrack"
	}

	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donatrack_receipts_total",
		Help: "Donation receipts processed by outcome.",
	}, []string{"outcome"})
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(receipts); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			receipts = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &Notifier{
		sub:      sub,
		mailer:   mailer,
		status:   status,
		renderer: renderer,
		org:      opts.Organization,
		loc:      opts.Location,
		log:      opts.Logger,
		now:      time.Now,
		receipts: receipts,
	}, nil
}

// Start subscribes to donation created events and processes them until ctx
// is cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	if n == nil {
		return errors.New("nil notifier")
	}

	closer, err := n.sub.Subscribe(ctx, ledger.SubjectDonationCreated, durableName, n.handleDonation)
	if err != nil {
		return err
	}

	n.subMu.Lock()
	n.closer = closer
	n.subMu.Unlock()
	return nil
}

// Close stops the subscription if it was created.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}

	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.closer == nil {
		return nil
	}
	err := n.closer.Close()
	n.closer = nil
	return err
}

// handleDonation returns an error only when the message should be redelivered.
// Delivery failures are recorded on the donation instead.
func (n *Notifier) handleDonation(ctx context.Context, data []byte) error {
	var evt ledger.DonationCreatedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		n.receipts.WithLabelValues("malformed").Inc()
		n.log.Error().Err(err).Msg("decode donation event")
		return nil
	}
	if evt.DonationID == uuid.Nil {
		n.receipts.WithLabelValues("malformed").Inc()
		n.log.Error().Msg("donation_id missing from event")
		return nil
	}

	logger := n.log.With().Str("donation_id", evt.DonationID.String()).Logger()

	if evt.DonorEmail == nil || strings.TrimSpace(*evt.DonorEmail) == "" {
		n.receipts.WithLabelValues("skipped").Inc()
		logger.Debug().Msg("no donor email; receipt skipped")
		return nil
	}

	sent, err := n.status.Sent(ctx, evt.DonationID)
	if err != nil {
		return fmt.Errorf("load receipt status: %w", err)
	}
	if sent {
		n.receipts.WithLabelValues("duplicate").Inc()
		return nil
	}

	message, err := n.renderer.Render("receipt", receiptData(evt, n.org, n.loc))
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	if err := n.mailer.Send(ctx, *evt.DonorEmail, message); err != nil {
		n.receipts.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Msg("receipt delivery failed")
		reason := truncateUTF8(err.Error(), maxErrorLength)
		if err := n.status.MarkFailed(ctx, evt.DonationID, reason); err != nil {
			return fmt.Errorf("record receipt failure: %w", err)
		}
		return nil
	}

	if err := n.status.MarkSent(ctx, evt.DonationID, n.now().UTC()); err != nil {
		return fmt.Errorf("record receipt delivery: %w", err)
	}
	n.receipts.WithLabelValues("sent").Inc()
	logger.Info().Msg("receipt sent")
	return nil
}

func receiptData(evt ledger.DonationCreatedEvent, org string, loc *time.Location) map[string]any {
	return map[string]any{
		"ReceiptNo":     ReceiptNumber(evt.DonationID),
		"DonorName":     evt.DonorName,
		"Amount":        evt.Amount.StringFixed(2),
		"Purpose":       evt.Purpose,
		"Category":      "",
		"PaymentMethod": string(evt.PaymentMethod),
		"Date":          evt.Date.In(loc),
		"Organization":  org,
	}
}

// ReceiptNumber derives a short human readable receipt number from a
// donation id.
func ReceiptNumber(id uuid.UUID) string {
	return "DN-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:10])
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune. Invalid
// sequences are replaced first since the store rejects them.
func truncateUTF8(s string, max int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
