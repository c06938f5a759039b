package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donatrack/pkg/render"
	"donatrack/services/ledger"
)

type fakeSubscriber struct {
	subject string
	durable string
	handler func(context.Context, []byte) error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subj, durable string, fn func(context.Context, []byte) error) (io.Closer, error) {
	f.subject, f.durable, f.handler = subj, durable, fn
	return io.NopCloser(nil), nil
}

type fakeMailer struct {
	to       []string
	messages []string
	err      error
}

func (f *fakeMailer) Send(_ context.Context, to, message string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.messages = append(f.messages, message)
	return nil
}

type fakeStatus struct {
	sent     map[uuid.UUID]bool
	failures map[uuid.UUID]string
	sentAt   map[uuid.UUID]time.Time
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{sent: map[uuid.UUID]bool{}, failures: map[uuid.UUID]string{}, sentAt: map[uuid.UUID]time.Time{}}
}

func (f *fakeStatus) Sent(_ context.Context, id uuid.UUID) (bool, error) { return f.sent[id], nil }

func (f *fakeStatus) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	f.sent[id] = true
	f.sentAt[id] = at
	delete(f.failures, id)
	return nil
}

func (f *fakeStatus) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.failures[id] = reason
	return nil
}

func newTestNotifier(t *testing.T, mailer Mailer, status StatusStore) (*Notifier, *fakeSubscriber) {
	t.Helper()
	engine, err := render.New()
	require.NoError(t, err)
	sub := &fakeSubscriber{}
	n, err := New(sub, mailer, status, engine, Options{
		Organization: "Temple Trust",
		Logger:       zerolog.Nop(),
		Registerer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, n.Start(context.Background()))
	return n, sub
}

func event(t *testing.T, email *string) (uuid.UUID, []byte) {
	t.Helper()
	id := uuid.New()
	data, err := json.Marshal(ledger.DonationCreatedEvent{
		DonationID:    id,
		DonorName:     "Asha",
		DonorEmail:    email,
		Amount:        decimal.RequireFromString("501"),
		Purpose:       "Annadanam",
		PaymentMethod: ledger.PaymentUPI,
		OperatorID:    uuid.New(),
		Date:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return id, data
}

func TestStartSubscribesToDonationCreated(t *testing.T) {
	n, sub := newTestNotifier(t, &fakeMailer{}, newFakeStatus())
	assert.Equal(t, ledger.SubjectDonationCreated, sub.subject)
	assert.Equal(t, durableName, sub.durable)
	assert.NoError(t, n.Close())
	assert.NoError(t, n.Close())
}

func TestHandleDonationSendsReceipt(t *testing.T) {
	mailer := &fakeMailer{}
	status := newFakeStatus()
	n, sub := newTestNotifier(t, mailer, status)

	email := "asha@example.org"
	id, data := event(t, &email)
	require.NoError(t, sub.handler(context.Background(), data))

	require.Len(t, mailer.messages, 1)
	assert.Equal(t, []string{email}, mailer.to)
	assert.Contains(t, mailer.messages[0], "Subject: Donation receipt "+ReceiptNumber(id))
	assert.Contains(t, mailer.messages[0], "501.00")
	assert.Contains(t, mailer.messages[0], "Temple Trust")
	assert.True(t, status.sent[id])
	assert.Equal(t, n.now().UTC(), status.sentAt[id])
	assert.Equal(t, 1.0, testutil.ToFloat64(n.receipts.WithLabelValues("sent")))

	// Redelivery does not send twice.
	require.NoError(t, sub.handler(context.Background(), data))
	assert.Len(t, mailer.messages, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(n.receipts.WithLabelValues("duplicate")))
}

func TestHandleDonationWithoutEmailIsSkipped(t *testing.T) {
	mailer := &fakeMailer{}
	status := newFakeStatus()
	_, sub := newTestNotifier(t, mailer, status)

	id, data := event(t, nil)
	require.NoError(t, sub.handler(context.Background(), data))
	assert.Empty(t, mailer.messages)
	assert.False(t, status.sent[id])
	assert.Empty(t, status.failures)
}

func TestHandleDonationRecordsDeliveryFailure(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("relay refused: " + strings.Repeat("x", 600))}
	status := newFakeStatus()
	_, sub := newTestNotifier(t, mailer, status)

	email := "asha@example.org"
	id, data := event(t, &email)
	require.NoError(t, sub.handler(context.Background(), data))

	assert.False(t, status.sent[id])
	require.Contains(t, status.failures, id)
	assert.Len(t, status.failures[id], maxErrorLength)
	assert.True(t, strings.HasPrefix(status.failures[id], "relay refused"))
}

func TestHandleDonationFailureKeepsValidUTF8(t *testing.T) {
	// The two byte rune straddles the length limit.
	msg := "relay refused: " + strings.Repeat("x", maxErrorLength-16) + "é tail"
	mailer := &fakeMailer{err: errors.New(msg)}
	status := newFakeStatus()
	_, sub := newTestNotifier(t, mailer, status)

	email := "asha@example.org"
	id, data := event(t, &email)
	require.NoError(t, sub.handler(context.Background(), data))

	reason := status.failures[id]
	assert.True(t, utf8.ValidString(reason))
	assert.Len(t, reason, maxErrorLength-1)
	assert.True(t, strings.HasSuffix(reason, "x"))
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "abc", max: 5, want: "abc"},
		{name: "exact", in: "abcde", max: 5, want: "abcde"},
		{name: "ascii cut", in: "abcdef", max: 4, want: "abcd"},
		{name: "inside two byte rune", in: "abé", max: 3, want: "ab"},
		{name: "inside four byte rune", in: "a😀b", max: 3, want: "a"},
		{name: "after rune", in: "é€x", max: 5, want: "é€"},
		{name: "invalid bytes replaced", in: "a\xffb", max: 10, want: "a\uFFFDb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestHandleDonationMalformedIsAcked(t *testing.T) {
	mailer := &fakeMailer{}
	_, sub := newTestNotifier(t, mailer, newFakeStatus())

	assert.NoError(t, sub.handler(context.Background(), []byte("{not json")))
	assert.NoError(t, sub.handler(context.Background(), []byte(`{"donor_name":"x"}`)))
	assert.Empty(t, mailer.messages)
}

func TestReceiptNumber(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.Equal(t, "DN-0F8FAD5BD9", ReceiptNumber(id))
}

func TestSMTPMailerSend(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.org", User: "u", Password: "p", From: "receipts@example.org"})
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "asha@example.org", "Subject: Hi\n\nBody\n"))
	assert.Equal(t, "smtp.example.org:587", gotAddr)
	assert.Equal(t, []string{"asha@example.org"}, gotTo)
	assert.Contains(t, string(gotMsg), "To: asha@example.org\r\n")
	assert.Contains(t, string(gotMsg), "Subject: Hi\r\n\r\nBody\r\n")

	assert.Error(t, m.Send(context.Background(), "a@example.org\r\nBcc: b@example.org", "x"))

	_, err = NewSMTPMailer(SMTPConfig{From: "x@example.org"})
	assert.Error(t, err)
}
