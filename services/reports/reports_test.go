package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donatrack/pkg/render"
	gos3 "donatrack/pkg/s3"
	"donatrack/services/ledger"
)

type fakeSource struct {
	donations []ledger.Donation
	truncated bool
	err       error
	gotActor  ledger.Actor
	gotMax    int
}

func (f *fakeSource) ExportDonations(_ context.Context, actor ledger.Actor, _ ledger.DonationFilter, max int) ([]ledger.Donation, bool, error) {
	f.gotActor = actor
	f.gotMax = max
	return f.donations, f.truncated, f.err
}

type fakeRecorder struct {
	specs []ledger.AuditSpec
}

func (f *fakeRecorder) Record(_ context.Context, _ ledger.Actor, spec ledger.AuditSpec) *ledger.AuditEntry {
	f.specs = append(f.specs, spec)
	return &ledger.AuditEntry{Action: spec.Action}
}

type fakeStore struct {
	put    gos3.Object
	body   []byte
	putErr error
}

func (f *fakeStore) PutObject(_ context.Context, obj gos3.Object) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.put = obj
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	f.body = data
	return nil
}

func (f *fakeStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://s3.example.org/" + bucket + "/" + key + "?sig=1", nil
}

func newTestExporter(t *testing.T, src Source, rec Recorder, store ObjectStore) *Exporter {
	t.Helper()
	engine, err := render.New()
	require.NoError(t, err)
	e, err := NewExporter(src, rec, store, engine, Config{Bucket: "reports"}, zerolog.Nop())
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func sampleDonations() []ledger.Donation {
	email := "asha@example.org"
	return []ledger.Donation{
		{
			ID:            uuid.New(),
			DonorName:     "Asha, R",
			DonorPhone:    "+919800000001",
			DonorEmail:    &email,
			Amount:        decimal.RequireFromString("501"),
			Purpose:       "Annadanam",
			PaymentMethod: ledger.PaymentUPI,
			OperatorID:    uuid.New(),
			Date:          time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC),
			Category:      &ledger.CategoryRef{Name: "Temple Fund"},
			Operator:      &ledger.OperatorRef{Name: "Ravi"},
		},
		{
			ID:            uuid.New(),
			DonorName:     "Kiran",
			DonorPhone:    "+919800000002",
			Amount:        decimal.RequireFromString("10.5"),
			Purpose:       "General",
			PaymentMethod: ledger.PaymentCash,
			OperatorID:    uuid.New(),
			Date:          time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestExportStoresCompressedCSV(t *testing.T) {
	src := &fakeSource{donations: sampleDonations(), truncated: true}
	rec := &fakeRecorder{}
	store := &fakeStore{}
	e := newTestExporter(t, src, rec, store)

	actor := ledger.Actor{ID: uuid.New(), Role: ledger.RoleAdmin, Name: "Admin"}
	res, err := e.Export(context.Background(), actor, ledger.DonationFilter{PaymentMethod: ledger.PaymentUPI})
	require.NoError(t, err)

	assert.Equal(t, MaxRows, src.gotMax)
	assert.Equal(t, actor, src.gotActor)
	assert.Equal(t, 2, res.Rows)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasPrefix(res.Key, "reports/2026/03/01/"))
	assert.Contains(t, res.URL, res.Key)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), res.ExpiresAt)

	assert.Equal(t, "reports", store.put.Bucket)
	assert.Equal(t, "zstd", store.put.ContentEncoding)
	assert.EqualValues(t, len(store.body), res.Size)
	sum := sha256.Sum256(store.body)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)

	dec, err := zstd.NewReader(bytes.NewReader(store.body))
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)

	text := string(plain)
	assert.Contains(t, text, "# payment_method=UPI")
	assert.Contains(t, text, "# rows: 2 (truncated)")

	var csvLines []string
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, "#") {
			csvLines = append(csvLines, line)
		}
	}
	records, err := csv.NewReader(strings.NewReader(strings.Join(csvLines, "\n"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, columns, records[0])
	assert.Equal(t, "Asha, R", records[1][2])
	assert.Equal(t, "501.00", records[1][5])
	assert.Equal(t, "Temple Fund", records[1][8])
	assert.Equal(t, "Ravi", records[1][9])
	assert.Equal(t, "", records[2][4])
	assert.Equal(t, "10.50", records[2][5])

	require.Len(t, rec.specs, 1)
	assert.Equal(t, ledger.ActionReportExported, rec.specs[0].Action)
	assert.Equal(t, ledger.EntityReport, rec.specs[0].EntityType)
	assert.Equal(t, res.ID, *rec.specs[0].EntityID)
}

func TestExportOperatorFilterDescribesOwnScope(t *testing.T) {
	src := &fakeSource{}
	store := &fakeStore{}
	e := newTestExporter(t, src, &fakeRecorder{}, store)

	op := ledger.Actor{ID: uuid.New(), Role: ledger.RoleOperator, Name: "Ravi"}
	other := uuid.New()
	_, err := e.Export(context.Background(), op, ledger.DonationFilter{OperatorID: &other})
	require.NoError(t, err)

	dec, err := zstd.NewReader(bytes.NewReader(store.body))
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "operator_id="+op.ID.String())
	assert.NotContains(t, string(plain), other.String())
}

func TestExportFailures(t *testing.T) {
	t.Run("source error passes through", func(t *testing.T) {
		rec := &fakeRecorder{}
		e := newTestExporter(t, &fakeSource{err: ledger.ErrForbidden}, rec, &fakeStore{})
		_, err := e.Export(context.Background(), ledger.Actor{Role: ledger.RoleOperator}, ledger.DonationFilter{})
		assert.ErrorIs(t, err, ledger.ErrForbidden)
		assert.Empty(t, rec.specs)
	})

	t.Run("storage failure is transient and not audited", func(t *testing.T) {
		rec := &fakeRecorder{}
		e := newTestExporter(t, &fakeSource{}, rec, &fakeStore{putErr: errors.New("connection reset")})
		_, err := e.Export(context.Background(), ledger.Actor{Role: ledger.RoleAdmin}, ledger.DonationFilter{})
		assert.Equal(t, ledger.KindTransient, ledger.KindOf(err))
		assert.Empty(t, rec.specs)
	})
}

func TestNewExporterRequiresBucket(t *testing.T) {
	engine, err := render.New()
	require.NoError(t, err)
	_, err = NewExporter(&fakeSource{}, &fakeRecorder{}, &fakeStore{}, engine, Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestExportEncryptsForRecipients(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	engine, err := render.New()
	require.NoError(t, err)
	store := &fakeStore{}
	rec := &fakeRecorder{}
	e, err := NewExporter(&fakeSource{donations: sampleDonations()}, rec, store, engine, Config{
		Bucket:     "reports",
		Recipients: []string{identity.Recipient().String()},
	}, zerolog.Nop())
	require.NoError(t, err)

	res, err := e.Export(context.Background(), ledger.Actor{ID: uuid.New(), Role: ledger.RoleAdmin}, ledger.DonationFilter{})
	require.NoError(t, err)

	assert.True(t, res.Encrypted)
	assert.True(t, strings.HasSuffix(res.Key, ".csv.zst.age"))
	assert.Empty(t, store.put.ContentEncoding)
	sum := sha256.Sum256(store.body)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)
	assert.Equal(t, true, rec.specs[0].Metadata["encrypted"])

	plainReader, err := age.Decrypt(bytes.NewReader(store.body), identity)
	require.NoError(t, err)
	dec, err := zstd.NewReader(plainReader)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "Asha, R")
}

func TestNewExporterRejectsBadRecipient(t *testing.T) {
	engine, err := render.New()
	require.NoError(t, err)
	_, err = NewExporter(&fakeSource{}, &fakeRecorder{}, &fakeStore{}, engine, Config{
		Bucket:     "reports",
		Recipients: []string{"not-a-recipient"},
	}, zerolog.Nop())
	assert.ErrorContains(t, err, "report recipient")
}
