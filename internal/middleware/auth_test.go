package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(userID int64, isAdmin bool) jwt.MapClaims {
	return jwt.MapClaims{
		"user_id":  userID,
		"is_admin": isAdmin,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)
	InitAuthMiddleware(nil)

	capture := func(gotUserID *int64, gotIsAdmin *bool) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := r.Context().Value(UserIDKey).(int64); ok {
				*gotUserID = id
			}
			if admin, ok := r.Context().Value(IsAdminKey).(bool); ok {
				*gotIsAdmin = admin
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("valid token populates context", func(t *testing.T) {
		var gotUserID int64
		var gotIsAdmin bool
		handler := AuthMiddleware(capture(&gotUserID, &gotIsAdmin))

		r := httptest.NewRequest("GET", "/wallet/balance", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims(7, true)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(7), gotUserID)
		assert.True(t, gotIsAdmin)
	})

	t.Run("missing header", func(t *testing.T) {
		handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		r := httptest.NewRequest("GET", "/wallet/balance", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		r := httptest.NewRequest("GET", "/wallet/balance", nil)
		r.Header.Set("Authorization", "Token abc123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		claims := validClaims(7, false)
		claims["exp"] = time.Now().Add(-time.Hour).Unix()

		r := httptest.NewRequest("GET", "/wallet/balance", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		r := httptest.NewRequest("GET", "/wallet/balance", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, "some-other-key", validClaims(7, false)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing user_id claim", func(t *testing.T) {
		handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		r := httptest.NewRequest("GET", "/wallet/balance", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthMiddleware_Blacklist(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)

	client, redisMock := redismock.NewClientMock()
	InitAuthMiddleware(client)
	defer InitAuthMiddleware(nil)

	token := signToken(t, testSecret, validClaims(3, false))
	redisMock.ExpectGet("blacklist:" + token).SetVal("revoked")

	handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	r := httptest.NewRequest("GET", "/wallet/balance", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestAdminOnly(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)
	InitAuthMiddleware(nil)

	protected := AuthMiddleware(AdminOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	t.Run("admin allowed", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/admin/users", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims(1, true)))
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/admin/users", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims(2, false)))
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unauthenticated request never reaches the admin check", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/admin/users", nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
