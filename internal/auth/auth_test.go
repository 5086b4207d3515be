package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "daytrack.identity"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "owner-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "owner-1", claims.OwnerID)
	require.False(t, claims.ExpiresAt.IsZero())
}

func TestParseRejectsBadTokens(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{
			"wrong issuer",
			signToken(t, jwt.MapClaims{"sub": "owner-1", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix()}),
		},
		{
			"missing subject",
			signToken(t, jwt.MapClaims{"iss": testConfig.Issuer, "exp": time.Now().Add(time.Hour).Unix()}),
		},
		{
			"expired",
			signToken(t, jwt.MapClaims{"sub": "owner-1", "iss": testConfig.Issuer, "exp": time.Now().Add(-time.Hour).Unix()}),
		},
		{
			"missing expiry",
			signToken(t, jwt.MapClaims{"sub": "owner-1", "iss": testConfig.Issuer}),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.token, testConfig)
			require.Error(t, err)
		})
	}
}

func TestMiddlewareRejectsUnauthenticatedRequests(t *testing.T) {
	middleware := NewMiddleware(testConfig, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	rr := httptest.NewRecorder()
	middleware.Wrap(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareStoresClaims(t *testing.T) {
	middleware := NewMiddleware(testConfig, nil)

	var got *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		require.True(t, ok)
		got = claims
	})

	token := signToken(t, jwt.MapClaims{
		"sub": "owner-42",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	middleware.Wrap(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	require.Equal(t, "owner-42", got.OwnerID)
}

func TestMiddlewareSkipper(t *testing.T) {
	middleware := NewMiddleware(testConfig, func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	})

	ran := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	middleware.Wrap(next).ServeHTTP(rr, req)

	require.True(t, ran)
	require.Equal(t, http.StatusOK, rr.Code)
}
