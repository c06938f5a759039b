package api

import "net/http"

func (a *API) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	f := q.auditFilter()
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	page, err := a.ledger.QueryAudit(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (a *API) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	f := q.auditFilter()
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	counts, err := a.ledger.AuditStats(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": counts})
}
