package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func protected(t *testing.T) (http.Handler, *string) {
	var seen string
	h := JWTAuth(testSecret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &seen
}

func TestJWTAuthValidToken(t *testing.T) {
	h, seen := protected(t)
	token := signToken(t, testSecret, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", *seen)
}

func TestJWTAuthQueryParamToken(t *testing.T) {
	h, seen := protected(t)
	token := signToken(t, testSecret, jwt.MapClaims{"user_id": "u1"})

	// WebSocket clients cannot set headers; the token rides the query string.
	r := httptest.NewRequest(http.MethodGet, "/ws?hive_id=h1&token="+token, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", *seen)
}

func TestJWTAuthRejections(t *testing.T) {
	h, _ := protected(t)

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"missing token", func(r *http.Request) {}},
		{"wrong secret", func(r *http.Request) {
			token := signToken(t, "other-secret", jwt.MapClaims{"user_id": "u1"})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"expired token", func(r *http.Request) {
			token := signToken(t, testSecret, jwt.MapClaims{
				"user_id": "u1",
				"exp":     time.Now().Add(-time.Hour).Unix(),
			})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"missing user_id claim", func(r *http.Request) {
			token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1"})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"malformed token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not.a.token")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
