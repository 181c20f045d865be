package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcman/internal/metrics"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// ClaimsKey is the context key for verified claims
	ClaimsKey ContextKey = "auth_claims"
)

type failure struct {
	status  int
	code    string
	message string
}

// classify maps a verification error to the response sent to the caller.
func classify(err error) failure {
	switch {
	case errors.Is(err, ErrMissingToken):
		return failure{http.StatusUnauthorized, "authentication_required", "Authentication required"}
	case errors.Is(err, ErrForbidden):
		return failure{http.StatusForbidden, "permission_denied", "Insufficient permissions"}
	default:
		return failure{http.StatusUnauthorized, "authentication_failed", "Invalid or expired token"}
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (v *Verifier) authenticate(r *http.Request) (*Claims, error) {
	claims, err := v.Verify(BearerToken(r))
	if err != nil {
		f := classify(err)
		metrics.IncAuthFailure(f.code)
	}
	return claims, err
}

// GinAuth returns a Gin middleware that rejects requests without a valid
// token carrying the required role.
func (v *Verifier) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := v.authenticate(c.Request)
		if err != nil {
			f := classify(err)
			c.AbortWithStatusJSON(f.status, gin.H{
				"error":   f.code,
				"message": f.message,
			})
			return
		}
		c.Set(string(ClaimsKey), claims)
		c.Next()
	}
}

// HTTPAuth is GinAuth for plain net/http handlers.
func (v *Verifier) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.authenticate(r)
		if err != nil {
			f := classify(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": f.code, "message": f.message})
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFrom returns the claims stored by HTTPAuth.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*Claims)
	return c, ok
}
