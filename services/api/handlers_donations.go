package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donatrack/services/ledger"
)

type donationRequest struct {
	DonorName     string          `json:"donor_name"`
	DonorPhone    string          `json:"donor_phone"`
	DonorEmail    *string         `json:"donor_email"`
	Amount        decimal.Decimal `json:"amount"`
	Purpose       string          `json:"purpose"`
	PaymentMethod string          `json:"payment_method"`
	CategoryID    *uuid.UUID      `json:"category_id"`
	Notes         string          `json:"notes"`
}

func (req donationRequest) input() ledger.DonationInput {
	return ledger.DonationInput{
		DonorName:     req.DonorName,
		DonorPhone:    req.DonorPhone,
		DonorEmail:    req.DonorEmail,
		Amount:        req.Amount,
		Purpose:       req.Purpose,
		PaymentMethod: ledger.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		CategoryID:    req.CategoryID,
		Notes:         req.Notes,
	}
}

// donationPatchRequest uses an empty category_id or donor_email to clear the
// field.
type donationPatchRequest struct {
	DonorName     *string          `json:"donor_name"`
	DonorPhone    *string          `json:"donor_phone"`
	DonorEmail    *string          `json:"donor_email"`
	Amount        *decimal.Decimal `json:"amount"`
	Purpose       *string          `json:"purpose"`
	PaymentMethod *string          `json:"payment_method"`
	CategoryID    *string          `json:"category_id"`
	Notes         *string          `json:"notes"`
}

func (req donationPatchRequest) patch() (ledger.DonationPatch, error) {
	p := ledger.DonationPatch{
		DonorName:  req.DonorName,
		DonorPhone: req.DonorPhone,
		DonorEmail: req.DonorEmail,
		Amount:     req.Amount,
		Purpose:    req.Purpose,
		Notes:      req.Notes,
	}
	if req.PaymentMethod != nil {
		m := ledger.PaymentMethod(strings.ToUpper(strings.TrimSpace(*req.PaymentMethod)))
		p.PaymentMethod = &m
	}
	if req.CategoryID != nil {
		id := uuid.Nil
		if s := strings.TrimSpace(*req.CategoryID); s != "" {
			parsed, err := uuid.Parse(s)
			if err != nil {
				return ledger.DonationPatch{}, errors.New("category_id must be a uuid")
			}
			id = parsed
		}
		p.CategoryID = &id
	}
	return p, nil
}

func (a *API) handleListDonations(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	f := q.donationFilter()
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	page, err := a.ledger.ListDonations(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *API) handleListDeletedDonations(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	f := q.donationFilter()
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	page, err := a.ledger.ListDeletedDonations(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *API) handleCreateDonation(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	d, err := a.ledger.CreateDonation(r.Context(), actorFrom(r.Context()), req.input())
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"donation": d})
}

func (a *API) handleGetDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	d, err := a.ledger.GetDonation(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"donation": d})
}

func (a *API) handleUpdateDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	var req donationPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	d, err := a.ledger.UpdateDonation(r.Context(), actorFrom(r.Context()), id, patch)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"donation": d})
}

func (a *API) handleDeleteDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	d, err := a.ledger.DeleteDonation(r.Context(), actorFrom(r.Context()), id, req.Reason)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"donation": d})
}

func (a *API) handleRestoreDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	d, err := a.ledger.RestoreDonation(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"donation": d})
}
