package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/catalogsync/pkg/errors"
	"github.com/utafrali/catalogsync/pkg/httputil"
)

// AdminToken guards operator endpoints with a static bearer token. An empty
// token disables the check so local setups work without configuration.
func AdminToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing authorization header"), nil)
				return
			}

			scheme, given, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid authorization header format"), nil)
				return
			}

			if subtle.ConstantTimeCompare([]byte(given), expected) != 1 {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid token"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
