package api

import (
	"net/http"

	"donatrack/services/ledger"
)

type userRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

type userPatchRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.ledger.ListUsers(r.Context(), actorFrom(r.Context()))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	// Unknown roles pass through as-is so validation reports them per field.
	role, err := ledger.ParseRole(req.Role)
	if err != nil {
		role = ledger.Role(req.Role)
	}

	u, err := a.ledger.CreateUser(r.Context(), actorFrom(r.Context()), ledger.UserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Role:     role,
	})
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	var req userPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	patch := ledger.UserPatch{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		IsActive: req.IsActive,
	}
	if req.Role != nil {
		role, err := ledger.ParseRole(*req.Role)
		if err != nil {
			role = ledger.Role(*req.Role)
		}
		patch.Role = &role
	}

	u, err := a.ledger.UpdateUser(r.Context(), actorFrom(r.Context()), id, patch)
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": u})
}
