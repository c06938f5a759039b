package api

import (
	"net/http"

	"donatrack/services/ledger"
)

func (a *API) handleExportDonations(w http.ResponseWriter, r *http.Request) {
	if a.reports == nil {
		a.respondFailure(w, r, &ledger.Error{Kind: ledger.KindTransient, Message: "report export is not configured"})
		return
	}

	q := newQueryReader(r, a.config.Location)
	f := q.donationFilter()
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	res, err := a.reports.Export(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"report": res})
}
