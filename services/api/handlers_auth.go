package api

import (
	"net/http"

	"donatrack/services/ledger"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.ledger.Login(r.Context(), ledger.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	token, expires, err := a.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		a.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires,
		"user":       user,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":   actor.ID,
			"name": actor.Name,
			"role": actor.Role,
		},
	})
}
