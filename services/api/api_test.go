package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donatrack/pkg/auth"
	"donatrack/services/ledger"
)

// fakeLedger embeds the interface so unimplemented calls panic loudly.
type fakeLedger struct {
	Ledger

	accounts   map[uuid.UUID]ledger.Actor
	resolveErr error

	loginUser ledger.User
	loginErr  error
	loginReq  ledger.LoginRequest

	createIn  ledger.DonationInput
	createErr error

	listFilter ledger.DonationFilter

	patchID uuid.UUID
	patch   ledger.DonationPatch

	deleteReason string
}

func (f *fakeLedger) ResolveIdentity(_ context.Context, id uuid.UUID, claimed ledger.Role, ip, ua string) (ledger.Actor, error) {
	if f.resolveErr != nil {
		return ledger.Actor{}, f.resolveErr
	}
	actor, ok := f.accounts[id]
	if !ok || actor.Role != claimed {
		return ledger.Actor{}, &ledger.Error{Kind: ledger.KindUnauthenticated, Message: "account no longer exists"}
	}
	actor.IPAddress, actor.UserAgent = ip, ua
	return actor, nil
}

func (f *fakeLedger) Login(_ context.Context, req ledger.LoginRequest) (ledger.User, error) {
	f.loginReq = req
	return f.loginUser, f.loginErr
}

func (f *fakeLedger) CreateDonation(_ context.Context, actor ledger.Actor, in ledger.DonationInput) (ledger.Donation, error) {
	f.createIn = in
	if f.createErr != nil {
		return ledger.Donation{}, f.createErr
	}
	return ledger.Donation{ID: uuid.New(), DonorName: in.DonorName, Amount: in.Amount, OperatorID: actor.ID}, nil
}

func (f *fakeLedger) ListDonations(_ context.Context, _ ledger.Actor, flt ledger.DonationFilter) (ledger.DonationPage, error) {
	f.listFilter = flt
	return ledger.DonationPage{Donations: []ledger.Donation{}, Pagination: ledger.Pagination{Page: 1, Limit: 20}}, nil
}

func (f *fakeLedger) UpdateDonation(_ context.Context, _ ledger.Actor, id uuid.UUID, p ledger.DonationPatch) (ledger.Donation, error) {
	f.patchID, f.patch = id, p
	return ledger.Donation{ID: id}, nil
}

func (f *fakeLedger) DeleteDonation(_ context.Context, _ ledger.Actor, id uuid.UUID, reason string) (ledger.Donation, error) {
	f.deleteReason = reason
	return ledger.Donation{ID: id}, nil
}

func (f *fakeLedger) ListUsers(_ context.Context, actor ledger.Actor) ([]ledger.User, error) {
	if actor.Role != ledger.RoleAdmin {
		return nil, &ledger.Error{Kind: ledger.KindForbidden, Message: "admin role required"}
	}
	return []ledger.User{}, nil
}

const testKey = "0123456789abcdef0123456789abcdef"

type harness struct {
	handler http.Handler
	tokens  *auth.Tokens
	ledger  *fakeLedger
	admin   ledger.Actor
	op      ledger.Actor
}

func newHarness(t *testing.T, deps Deps) *harness {
	t.Helper()

	tokens, err := auth.NewTokens(testKey, time.Hour)
	require.NoError(t, err)

	admin := ledger.Actor{ID: uuid.New(), Role: ledger.RoleAdmin, Name: "Admin"}
	op := ledger.Actor{ID: uuid.New(), Role: ledger.RoleOperator, Name: "Ravi"}
	fl := &fakeLedger{accounts: map[uuid.UUID]ledger.Actor{admin.ID: admin, op.ID: op}}

	deps.Ledger = fl
	deps.Tokens = tokens
	deps.Logger = zerolog.Nop()
	deps.Gatherer = prometheus.NewRegistry()

	a, err := New(deps, Config{AllowedOrigins: []string{"http://localhost:5173"}})
	require.NoError(t, err)
	h, err := a.Routes()
	require.NoError(t, err)

	return &harness{handler: h, tokens: tokens, ledger: fl, admin: admin, op: op}
}

func (h *harness) token(t *testing.T, actor ledger.Actor) string {
	t.Helper()
	tok, _, err := h.tokens.Issue(actor.ID, string(actor.Role))
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, Deps{Ready: func(context.Context) error { return errors.New("pool closed") }})

	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, Deps{})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "forged", header: "Bearer abc.def", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + h.token(t, h.admin), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, ledger.KindUnauthenticated, decodeError(t, rec).Kind)
			}
		})
	}
}

func TestRevokedAccountLosesAccess(t *testing.T) {
	h := newHarness(t, Deps{})
	tok := h.token(t, h.op)

	rec := h.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.ledger.resolveErr = &ledger.Error{Kind: ledger.KindUnauthenticated, Message: "account is inactive"}
	rec = h.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "account is inactive", decodeError(t, rec).Message)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	h := newHarness(t, Deps{})
	h.ledger.loginUser = ledger.User{ID: h.op.ID, Email: "ravi@example.org", Role: ledger.RoleOperator, IsActive: true}

	rec := h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ravi@example.org", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ravi@example.org", h.ledger.loginReq.Email)
	assert.NotEmpty(t, h.ledger.loginReq.IPAddress)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = h.do(t, http.MethodGet, "/api/auth/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"OPERATOR"`)
}

func TestLoginFailure(t *testing.T) {
	h := newHarness(t, Deps{})
	h.ledger.loginErr = &ledger.Error{Kind: ledger.KindUnauthenticated, Message: "invalid email or password"}

	rec := h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "x@example.org", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "x", "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDonation(t *testing.T) {
	h := newHarness(t, Deps{})
	tok := h.token(t, h.op)

	rec := h.do(t, http.MethodPost, "/api/donations", tok, map[string]any{
		"donor_name":     "Asha",
		"donor_phone":    "+919800000001",
		"amount":         "501.50",
		"purpose":        "Annadanam",
		"payment_method": "upi",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, ledger.PaymentUPI, h.ledger.createIn.PaymentMethod)
	assert.True(t, decimal.RequireFromString("501.50").Equal(h.ledger.createIn.Amount))
	assert.Contains(t, rec.Body.String(), h.op.ID.String())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    ledger.Kind
		message string
	}{
		{
			name:    "validation keeps fields",
			err:     &ledger.Error{Kind: ledger.KindValidation, Message: "invalid input", Fields: []ledger.FieldViolation{{Field: "amount", Message: "must be positive"}}},
			status:  http.StatusBadRequest,
			kind:    ledger.KindValidation,
			message: "invalid input",
		},
		{name: "conflict", err: &ledger.Error{Kind: ledger.KindConflict, Message: "duplicate"}, status: http.StatusConflict, kind: ledger.KindConflict, message: "duplicate"},
		{name: "forbidden", err: ledger.ErrForbidden, status: http.StatusForbidden, kind: ledger.KindForbidden, message: "forbidden"},
		{name: "transient", err: &ledger.Error{Kind: ledger.KindTransient, Message: "store unavailable"}, status: http.StatusServiceUnavailable, kind: ledger.KindTransient, message: "store unavailable"},
		{name: "internal is sanitized", err: errors.New("pq: relation secret_table does not exist"), status: http.StatusInternalServerError, kind: ledger.KindInternal, message: "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Deps{})
			h.ledger.createErr = tt.err

			rec := h.do(t, http.MethodPost, "/api/donations", h.token(t, h.op), map[string]any{"donor_name": "x"})
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.message, body.Message)
			assert.NotContains(t, rec.Body.String(), "secret_table")
			if tt.kind == ledger.KindValidation {
				require.Len(t, body.Fields, 1)
				assert.Equal(t, "amount", body.Fields[0].Field)
			}
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestListDonationsParsesFilter(t *testing.T) {
	h := newHarness(t, Deps{})
	tok := h.token(t, h.admin)
	cat := uuid.New()

	rec := h.do(t, http.MethodGet, "/api/donations?start_date=2026-03-01&end_date=2026-03-31&min_amount=10&payment_method=cash&category_id="+cat.String()+"&page=2&limit=50", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f := h.ledger.listFilter
	require.NotNil(t, f.StartDate)
	require.NotNil(t, f.EndDate)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *f.StartDate)
	assert.Equal(t, time.Date(2026, 3, 31, 23, 59, 59, 999999999, time.UTC), *f.EndDate)
	assert.True(t, decimal.NewFromInt(10).Equal(*f.MinAmount))
	assert.Equal(t, ledger.PaymentCash, f.PaymentMethod)
	assert.Equal(t, cat, *f.CategoryID)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 50, f.Limit)
}

func TestListDonationsRejectsBadQuery(t *testing.T) {
	h := newHarness(t, Deps{})

	rec := h.do(t, http.MethodGet, "/api/donations?min_amount=lots&operator_id=nope", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeError(t, rec)
	fields := map[string]bool{}
	for _, f := range body.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["min_amount"])
	assert.True(t, fields["operator_id"])
}

func TestUpdateDonationClearsCategory(t *testing.T) {
	h := newHarness(t, Deps{})
	id := uuid.New()

	rec := h.do(t, http.MethodPatch, "/api/donations/"+id.String(), h.token(t, h.op), map[string]any{
		"category_id":    "",
		"payment_method": "card",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, h.ledger.patchID)
	require.NotNil(t, h.ledger.patch.CategoryID)
	assert.Equal(t, uuid.Nil, *h.ledger.patch.CategoryID)
	assert.Equal(t, ledger.PaymentCard, *h.ledger.patch.PaymentMethod)
	assert.Nil(t, h.ledger.patch.Amount)

	rec = h.do(t, http.MethodPatch, "/api/donations/not-a-uuid", h.token(t, h.op), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDonationReasonIsOptional(t *testing.T) {
	h := newHarness(t, Deps{})
	tok := h.token(t, h.admin)
	id := uuid.New()

	rec := h.do(t, http.MethodDelete, "/api/donations/"+id.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", h.ledger.deleteReason)

	rec = h.do(t, http.MethodDelete, "/api/donations/"+id.String(), tok, map[string]string{"reason": "duplicate entry"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate entry", h.ledger.deleteReason)
}

func TestOperatorForbiddenOnUsers(t *testing.T) {
	h := newHarness(t, Deps{})

	rec := h.do(t, http.MethodGet, "/api/users", h.token(t, h.op), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/users", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportWithoutStorage(t *testing.T) {
	h := newHarness(t, Deps{})

	rec := h.do(t, http.MethodPost, "/api/reports/donations", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ledger.KindTransient, decodeError(t, rec).Kind)
}

func TestInsightsRejectsUnknownTimeframe(t *testing.T) {
	h := newHarness(t, Deps{})

	rec := h.do(t, http.MethodGet, "/api/analytics/insights?timeframe=decade", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/analytics/timeseries", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
