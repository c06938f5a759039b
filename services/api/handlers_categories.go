package api

import (
	"net/http"

	"donatrack/services/ledger"
)

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

type categoryPatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
	Color       *string `json:"color"`
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	q := newQueryReader(r, a.config.Location)
	includeInactive := q.boolean("include_inactive")
	if err := q.err(); err != nil {
		a.respondFailure(w, r, err)
		return
	}

	categories, err := a.ledger.ListCategories(r.Context(), actorFrom(r.Context()), includeInactive)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	c, err := a.ledger.CreateCategory(r.Context(), actorFrom(r.Context()), ledger.CategoryInput(req))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"category": c})
}

func (a *API) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	var req categoryPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	c, err := a.ledger.UpdateCategory(r.Context(), actorFrom(r.Context()), id, ledger.CategoryPatch(req))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": c})
}

func (a *API) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	c, err := a.ledger.ToggleCategory(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": c})
}

func (a *API) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	c, err := a.ledger.DeleteCategory(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": c})
}
