package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

// Context keys populated by AuthMiddleware.
const (
	UserIDKey  = "userID"
	IsAdminKey = "isAdmin"
)

var blacklistRedis *redis.Client

// InitAuthMiddleware wires the Redis client used for token blacklist checks.
// A nil client disables blacklisting (tokens stay valid until expiry).
func InitAuthMiddleware(redisClient *redis.Client) {
	blacklistRedis = redisClient
}

// AuthMiddleware authenticates the Bearer token and adds the caller's user
// id and admin flag to the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := parts[1]

		if blacklistRedis != nil {
			key := fmt.Sprintf("blacklist:%s", token)
			if err := blacklistRedis.Get(r.Context(), key).Err(); err == nil {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		userID, isAdmin, err := validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, IsAdminKey, isAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects callers whose token lacks the admin claim. Must run
// after AuthMiddleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAdmin, ok := r.Context().Value(IsAdminKey).(bool)
		if !ok || !isAdmin {
			http.Error(w, "Admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validateToken(tokenString string) (int64, bool, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return 0, false, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false, fmt.Errorf("unexpected claims type")
	}

	rawID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, false, fmt.Errorf("missing user_id claim")
	}

	isAdmin, _ := claims["is_admin"].(bool)
	return int64(rawID), isAdmin, nil
}
