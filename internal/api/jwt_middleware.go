package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

// userContextKey is the key used to store the caller's subject in the request context.
const userContextKey contextKey = "userID"

// JwtAuthMiddleware requires an HS256 bearer token with a non-empty sub claim.
func (a *API) JwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := a.logger.With().Str("path", r.URL.Path).Logger()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			logger.Warn().Msg("Unauthorized: missing Authorization header")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Missing Authorization header")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			logger.Warn().Msg("Unauthorized: 'Bearer ' prefix not found")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Invalid token format")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(a.jwtSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			logger.Warn().Err(err).Msg("Unauthorized: token parsing or validation failed")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
			return
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			logger.Warn().Msg("Unauthorized: token has no subject")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Invalid subject in token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext safely retrieves the caller's subject from the request context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey).(string)
	return userID, ok
}
