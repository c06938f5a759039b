package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"donatrack/pkg/auth"
	"donatrack/services/ledger"
)

type actorKey struct{}

func withActor(ctx context.Context, actor ledger.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// actorFrom returns the actor stored by authenticate.
func actorFrom(ctx context.Context) ledger.Actor {
	actor, _ := ctx.Value(actorKey{}).(ledger.Actor)
	return actor
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate verifies the bearer token and re-reads the account on every
// request so deactivated users lose access immediately.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			a.respondFailure(w, r, &ledger.Error{Kind: ledger.KindUnauthenticated, Message: "bearer token required"})
			return
		}

		claims, err := a.tokens.Verify(raw)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token expired"
			}
			a.respondFailure(w, r, &ledger.Error{Kind: ledger.KindUnauthenticated, Message: msg, Err: err})
			return
		}

		role, err := ledger.ParseRole(claims.Role)
		if err != nil {
			a.respondFailure(w, r, &ledger.Error{Kind: ledger.KindUnauthenticated, Message: "invalid token", Err: err})
			return
		}

		actor, err := a.ledger.ResolveIdentity(r.Context(), claims.Subject, role, clientIP(r), r.UserAgent())
		if err != nil {
			a.respondFailure(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}
