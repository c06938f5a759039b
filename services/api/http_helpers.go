package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donatrack/services/ledger"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Kind    ledger.Kind             `json:"kind"`
	Message string                  `json:"message"`
	Fields  []ledger.FieldViolation `json:"fields,omitempty"`
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError reports a malformed request that never reached the ledger.
func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": errorBody{Kind: ledger.KindValidation, Message: err.Error()}})
}

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindForbidden:
		return http.StatusForbidden
	case ledger.KindUnauthenticated:
		return http.StatusUnauthorized
	case ledger.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure maps a ledger error onto a status and a sanitized body.
func (a *API) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		le = &ledger.Error{Kind: ledger.KindInternal, Message: "internal error", Err: err}
	}

	status := statusFor(le.Kind)
	body := errorBody{Kind: le.Kind, Message: le.Message, Fields: le.Fields}
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Str("kind", string(le.Kind)).Msg("request failed")
		if le.Kind != ledger.KindTransient {
			body = errorBody{Kind: ledger.KindInternal, Message: "internal error"}
		}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, status, map[string]any{"error": body})
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &ledger.Error{
			Kind:    ledger.KindValidation,
			Message: "invalid input",
			Fields:  []ledger.FieldViolation{{Field: "id", Message: "must be a uuid"}},
		}
	}
	return id, nil
}

// queryReader accumulates query parameter violations.
type queryReader struct {
	values url.Values
	loc    *time.Location
	fields []ledger.FieldViolation
}

func newQueryReader(r *http.Request, loc *time.Location) *queryReader {
	return &queryReader{values: r.URL.Query(), loc: loc}
}

func (q *queryReader) fail(field, msg string) {
	q.fields = append(q.fields, ledger.FieldViolation{Field: field, Message: msg})
}

func (q *queryReader) err() error {
	if len(q.fields) == 0 {
		return nil
	}
	return &ledger.Error{Kind: ledger.KindValidation, Message: "invalid input", Fields: q.fields}
}

func (q *queryReader) str(name string) string {
	return strings.TrimSpace(q.values.Get(name))
}

func (q *queryReader) integer(name string) int {
	s := q.str(name)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		q.fail(name, "must be an integer")
		return 0
	}
	return n
}

func (q *queryReader) boolean(name string) bool {
	s := q.str(name)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		q.fail(name, "must be true or false")
	}
	return b
}

func (q *queryReader) id(name string) *uuid.UUID {
	s := q.str(name)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		q.fail(name, "must be a uuid")
		return nil
	}
	return &id
}

func (q *queryReader) amount(name string) *decimal.Decimal {
	s := q.str(name)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		q.fail(name, "must be a decimal number")
		return nil
	}
	return &d
}

// instant accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare date used
// as an upper bound covers the whole day.
func (q *queryReader) instant(name string, endOfDay bool) *time.Time {
	s := q.str(name)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	d, err := time.ParseInLocation(time.DateOnly, s, q.loc)
	if err != nil {
		q.fail(name, "must be an RFC 3339 timestamp or YYYY-MM-DD date")
		return nil
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &d
}

func (q *queryReader) donationFilter() ledger.DonationFilter {
	return ledger.DonationFilter{
		StartDate:     q.instant("start_date", false),
		EndDate:       q.instant("end_date", true),
		MinAmount:     q.amount("min_amount"),
		MaxAmount:     q.amount("max_amount"),
		Purpose:       q.str("purpose"),
		PaymentMethod: ledger.PaymentMethod(strings.ToUpper(q.str("payment_method"))),
		OperatorID:    q.id("operator_id"),
		CategoryID:    q.id("category_id"),
		Search:        q.str("search"),
		Page:          q.integer("page"),
		Limit:         q.integer("limit"),
	}
}

func (q *queryReader) auditFilter() ledger.AuditFilter {
	return ledger.AuditFilter{
		Action:     ledger.Action(strings.ToUpper(q.str("action"))),
		ActorID:    q.id("user_id"),
		EntityType: ledger.EntityType(strings.ToUpper(q.str("entity_type"))),
		Start:      q.instant("start_date", false),
		End:        q.instant("end_date", true),
		Search:     q.str("search"),
		Page:       q.integer("page"),
		Limit:      q.integer("limit"),
	}
}
