package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"donatrack/pkg/render"
	gos3 "donatrack/pkg/s3"
	"donatrack/services/ledger"
)

// MaxRows caps a single export.
const MaxRows = 10000

const defaultURLTTL = 15 * time.Minute

// Source reads the donations an actor may export.
type Source interface {
	ExportDonations(ctx context.Context, actor ledger.Actor, f ledger.DonationFilter, max int) ([]ledger.Donation, bool, error)
}

// Recorder appends failure-isolated audit entries.
type Recorder interface {
	Record(ctx context.Context, actor ledger.Actor, spec ledger.AuditSpec) *ledger.AuditEntry
}

// ObjectStore stores report archives and hands out download links.
type ObjectStore interface {
	PutObject(ctx context.Context, obj gos3.Object) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Config controls where reports are written. When Recipients is set every
// archive is age encrypted to those X25519 recipients before upload.
type Config struct {
	Bucket     string
	URLTTL     time.Duration
	Recipients []string
}

// Result describes one stored export.
type Result struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Rows      int       `json:"rows"`
	Truncated bool      `json:"truncated"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Encrypted bool      `json:"encrypted"`
}

// Exporter renders donation listings as zstd compressed CSV and stores them
// in object storage.
type Exporter struct {
	source   Source
	audit    Recorder
	store    ObjectStore
	renderer *render.Engine
	cfg      Config
	sealTo   []age.Recipient
	log      zerolog.Logger
	now      func() time.Time
}

// NewExporter wires an Exporter.
func NewExporter(source Source, audit Recorder, store ObjectStore, renderer *render.Engine, cfg Config, log zerolog.Logger) (*Exporter, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if audit == nil {
		return nil, errors.New("audit recorder is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("report bucket is required")
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}
	sealTo, err := parseRecipients(cfg.Recipients)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		sealTo:   sealTo,
		source:   source,
		audit:    audit,
		store:    store,
		renderer: renderer,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// Export writes the donations matching f that actor may see and returns a
// presigned download link.
func (e *Exporter) Export(ctx context.Context, actor ledger.Actor, f ledger.DonationFilter) (Result, error) {
	donations, truncated, err := e.source.ExportDonations(ctx, actor, f, MaxRows)
	if err != nil {
		return Result{}, err
	}

	now := e.now().UTC()
	header, err := e.renderer.Render("report_header", map[string]any{
		"GeneratedAt": now,
		"GeneratedBy": actor.Name,
		"Filters":     describeFilter(f.Scoped(actor)),
		"Rows":        len(donations),
		"Truncated":   truncated,
	})
	if err != nil {
		return Result{}, fmt.Errorf("render report header: %w", err)
	}

	var buf bytes.Buffer
	if err := compress(&buf, header, donations); err != nil {
		return Result{}, err
	}

	id := uuid.New()
	obj := gos3.Object{
		Bucket:          e.cfg.Bucket,
		Key:             fmt.Sprintf("reports/%s/%s.csv.zst", now.Format("2006/01/02"), id),
		ContentType:     "text/csv",
		ContentEncoding: "zstd",
		Metadata:        map[string]string{"exported-by": actor.ID.String()},
	}

	encrypted := len(e.sealTo) > 0
	if encrypted {
		sealed, err := seal(buf.Bytes(), e.sealTo)
		if err != nil {
			return Result{}, err
		}
		buf = *sealed
		obj.Key += ".age"
		obj.ContentType = "application/octet-stream"
		obj.ContentEncoding = ""
	}

	sum := sha256.Sum256(buf.Bytes())
	digest := hex.EncodeToString(sum[:])
	key := obj.Key
	size := int64(buf.Len())
	obj.Body = bytes.NewReader(buf.Bytes())
	obj.Size = size
	obj.SHA256 = digest

	err = e.store.PutObject(ctx, obj)
	if err != nil {
		return Result{}, &ledger.Error{Kind: ledger.KindTransient, Message: "report storage unavailable", Err: err}
	}

	url, err := e.store.PresignGet(ctx, e.cfg.Bucket, key, e.cfg.URLTTL)
	if err != nil {
		return Result{}, &ledger.Error{Kind: ledger.KindInternal, Message: "internal error", Err: err}
	}

	e.audit.Record(ctx, actor, ledger.AuditSpec{
		Action:      ledger.ActionReportExported,
		EntityType:  ledger.EntityReport,
		EntityID:    &id,
		Description: fmt.Sprintf("Exported %d donations", len(donations)),
		Metadata: map[string]any{
			"key":       key,
			"rows":      len(donations),
			"truncated": truncated,
			"sha256":    digest,
			"encrypted": encrypted,
		},
	})

	e.log.Info().
		Str("report_id", id.String()).
		Str("actor_id", actor.ID.String()).
		Int("rows", len(donations)).
		Bool("truncated", truncated).
		Msg("report exported")

	return Result{
		ID:        id,
		Key:       key,
		URL:       url,
		ExpiresAt: now.Add(e.cfg.URLTTL),
		Rows:      len(donations),
		Truncated: truncated,
		Size:      size,
		SHA256:    digest,
		Encrypted: encrypted,
	}, nil
}

func compress(buf *bytes.Buffer, header string, donations []ledger.Donation) error {
	encoder, err := zstd.NewWriter(buf)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := encoder.Write([]byte(header)); err != nil {
		encoder.Close()
		return fmt.Errorf("write report header: %w", err)
	}
	if err := WriteCSV(encoder, donations); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

func parseRecipients(keys []string) ([]age.Recipient, error) {
	var out []age.Recipient
	for _, k := range keys {
		if k == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(k)
		if err != nil {
			return nil, fmt.Errorf("parse report recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func seal(plain []byte, recipients []age.Recipient) (*bytes.Buffer, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipients...)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		w.Close()
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	return &out, nil
}
