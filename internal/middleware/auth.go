package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/famevents/internal/auth"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (auth.AuthContext, error)
}

// RequireAuth validates the Authorization bearer token and populates
// AuthContext. Failures get a 401 JSON body.
func RequireAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, "authentication required")
				return
			}

			ac, err := tokens.Verify(raw)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			noteUser(r.Context(), ac.UserID)
			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromQuery copies a token passed as the named query parameter into
// the Authorization header when the header is absent. Browsers cannot set
// headers on WebSocket upgrades.
func TokenFromQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				if tok := r.URL.Query().Get(param); tok != "" {
					r = r.Clone(r.Context())
					r.Header.Set("Authorization", "Bearer "+tok)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByUser keys rate limits on the authenticated user, falling back to the
// client IP for anonymous requests.
func ByUser(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + RealIP(r)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="famevents"`)
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
