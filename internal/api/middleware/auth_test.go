package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/mailindex/internal/api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

func newTestAuth(t *testing.T) *AdminAuth {
	t.Helper()
	a, err := NewAdminAuth(testSecret)
	require.NoError(t, err)
	return a
}

func signClaims(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNewAdminAuth_WeakSecret(t *testing.T) {
	t.Parallel()

	_, err := NewAdminAuth("short")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	now := time.Now()

	valid, err := a.IssueToken("ops", time.Hour)
	require.NoError(t, err)

	claims, err := a.ValidateToken(valid)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, AdminRole, claims.Role)

	expired := signClaims(t, testSecret, AdminClaims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	})
	_, err = a.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	notAdmin := signClaims(t, testSecret, AdminClaims{
		Role: "reader",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	_, err = a.ValidateToken(notAdmin)
	assert.ErrorIs(t, err, ErrNotAdmin)

	noExpiry := signClaims(t, testSecret, AdminClaims{Role: AdminRole})
	_, err = a.ValidateToken(noExpiry)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey := signClaims(t, "another-secret-that-is-at-least-32-chars", AdminClaims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	_, err = a.ValidateToken(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminAuth_Authenticate(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	token, err := a.IssueToken("ops", time.Hour)
	require.NoError(t, err)

	reader := signClaims(t, testSecret, AdminClaims{
		Role: "reader",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name            string
		authHeader      string
		expectedStatus  int
		expectedSubject string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, "ops"},
		{"missing auth header", "", http.StatusUnauthorized, ""},
		{"invalid auth format", "Token " + token, http.StatusUnauthorized, ""},
		{"invalid token", "Bearer garbage", http.StatusUnauthorized, ""},
		{"not an admin", "Bearer " + reader, http.StatusForbidden, ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotSubject string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSubject, _ = shared.GetSubject(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/admin/queue", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rr := httptest.NewRecorder()
			a.Authenticate(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Equal(t, tc.expectedSubject, gotSubject)
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	var traceID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
	})

	rr := httptest.NewRecorder()
	NewTraceMiddleware(nil)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, traceID, 32)
	assert.Equal(t, traceID, rr.Header().Get(shared.TraceIDHeader))
}
