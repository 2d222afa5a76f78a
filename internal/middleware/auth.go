package middleware

import (
	"net/http"
	"strings"

	"github.com/buddy-ai/buddy/internal/model/user"
)

// TokenResolver maps a bearer token to its identity.
type TokenResolver interface {
	Get(token string) (user.Identity, bool)
}

// Auth resolves the bearer token into the request context. Tokens arrive in
// the Authorization header or, for EventSource connections that cannot set
// headers, in the session query parameter. Requests without a valid token
// pass through anonymous; handlers decide whether to require identity.
func Auth(tokens TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" {
				if id, ok := tokens.Get(token); ok {
					r = r.WithContext(user.WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("session")
}
