package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/storage"
)

// authenticator validates the bearer tokens issued by handlers.AuthHandler.
type authenticator struct {
	users    *storage.UserService
	secret   []byte
	required bool
	now      func() time.Time
}

// Middleware validates the bearer token, when there is one, and adds the
// user to the context.
//
// Requests without a token go through anonymously unless authentication is
// required. The health and login endpoints never need a token.
func (a *authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" || r.URL.Path == "/api/auth/login" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if a.required {
				writeError(w, apierrors.Unauthorized())
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, apierrors.Unauthorized().WithDetail("reason", "invalid authorization header"))
			return
		}
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
		if err != nil {
			slog.DebugContext(r.Context(), "Rejected token", "err", err)
			writeError(w, apierrors.Unauthorized().WithDetail("reason", "invalid token"))
			return
		}
		user, err := a.users.GetByID(claims.Subject)
		if err != nil {
			writeError(w, apierrors.Unauthorized().WithDetail("reason", "unknown user"))
			return
		}
		next.ServeHTTP(w, r.WithContext(models.WithUser(r.Context(), user)))
	})
}

// requireUser rejects anonymous requests.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if models.GetUser(r.Context()) == nil {
			writeError(w, apierrors.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects requests of users without the admin role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := models.GetUser(r.Context())
		if u == nil {
			writeError(w, apierrors.Unauthorized())
			return
		}
		if !u.IsAdmin() {
			writeError(w, apierrors.Forbidden("Forbidden: admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
