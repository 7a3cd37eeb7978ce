package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/config"
)

// StationHeader carries the scan station identifier
const StationHeader = "X-Station-ID"

type contextKey string

const (
	staffKey   contextKey = "staff"
	stationKey contextKey = "station_id"
)

// AuthMiddleware validates staff JWTs and attaches the claims to the context
func AuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				if errors.Is(err, config.ErrConfigMissing) {
					log.Printf("Staff auth unavailable: %v", err)
					respondWithError(w, http.StatusInternalServerError, "config_missing")
					return
				}
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), staffKey, claims)
			if station := strings.TrimSpace(r.Header.Get(StationHeader)); station != "" {
				ctx = context.WithValue(ctx, stationKey, station)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetStaff returns the staff claims attached by AuthMiddleware
func GetStaff(ctx context.Context) (*auth.StaffClaims, bool) {
	c, ok := ctx.Value(staffKey).(*auth.StaffClaims)
	return c, ok
}

// GetStaffID extracts the staff ID from context
func GetStaffID(ctx context.Context) (uuid.UUID, bool) {
	c, ok := GetStaff(ctx)
	if !ok || c == nil {
		return uuid.Nil, false
	}
	return c.StaffID, true
}

// GetStationID extracts the scan station ID from context
func GetStationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(stationKey).(string)
	return id, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
