package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/directory"
)

var (
	ErrMissingToken = apperr.Unauthenticated("authentication required")
	ErrInvalidToken = apperr.Unauthenticated("invalid or expired token")
	ErrUnknownUser  = apperr.Unauthenticated("user not found or inactive")
)

type callerKey struct{}

// Authenticate resolves the bearer token's subject through the directory and
// stores the caller in the request context.
func Authenticate(secret []byte, users directory.Reader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeError(w, r, ErrMissingToken)
				return
			}

			userID, err := parseSubject(secret, strings.TrimSpace(raw))
			if err != nil {
				writeError(w, r, ErrInvalidToken)
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			switch {
			case errors.Is(err, directory.ErrUserNotFound):
				writeError(w, r, ErrUnknownUser)
				return
			case err != nil:
				writeError(w, r, err)
				return
			case !user.Active:
				writeError(w, r, ErrUnknownUser)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseSubject(secret []byte, raw string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}

// CallerFromContext returns the authenticated user, if any.
func CallerFromContext(ctx context.Context) (*directory.User, bool) {
	u, ok := ctx.Value(callerKey{}).(*directory.User)
	return u, ok && u != nil
}

// IssueToken signs an HS256 token for userID. Used by the seed and load
// tools; the API itself never hands out tokens.
func IssueToken(secret []byte, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}
