package api

import (
	"net/http"

	"donatrack/services/ledger"
)

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	m, err := a.ledger.DashboardMetrics(r.Context(), actorFrom(r.Context()))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (a *API) handleInsights(w http.ResponseWriter, r *http.Request) {
	tf, err := ledger.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	insights, err := a.ledger.Insights(r.Context(), actorFrom(r.Context()), tf)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, insights)
}

func (a *API) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	start := q.instant("start_date", false)
	end := q.instant("end_date", true)
	if start == nil {
		q.fail("start_date", "is required")
	}
	if end == nil {
		q.fail("end_date", "is required")
	}
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	buckets, err := a.ledger.TimeSeries(r.Context(), actorFrom(r.Context()), *start, *end)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (a *API) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	groups, err := a.ledger.CategoryBreakdown(r.Context(), actorFrom(r.Context()))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"categories": groups})
}

func (a *API) handleOperatorPerformance(w http.ResponseWriter, r *http.Request) {
	stats, err := a.ledger.OperatorPerformance(r.Context(), actorFrom(r.Context()))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"operators": stats})
}

func (a *API) handleTopDonors(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	limit := q.integer("limit")
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	donors, err := a.ledger.TopDonors(r.Context(), actorFrom(r.Context()), limit)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"donors": donors})
}
