package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"tenant-service/internal/model"
	"tenant-service/pkg/jwtutil"
	"tenant-service/pkg/logger"
	"tenant-service/pkg/tenantctx"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

const testKid = "middleware-test-key"

func stubSyncUser(t *testing.T) {
	t.Helper()
	orig := syncUser
	syncUser = func(_ context.Context, subjectID uuid.UUID, email string, tenantID uuid.UUID) (*model.User, error) {
		return &model.User{ID: subjectID, Email: email, Active: true, Verified: true, TenantID: tenantID}, nil
	}
	t.Cleanup(func() { syncUser = orig })
}

func newAuthority(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	pub := key.Public().(*rsa.PublicKey)
	doc := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type authFixture struct {
	key      *rsa.PrivateKey
	issuer   string
	verifier *jwtutil.Verifier
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newAuthority(t, key)
	cfg := &jwtutil.Config{
		AuthorityURL: srv.URL,
		Realm:        "tenant-realm",
		Audience:     "tenant-frontend",
		CacheTTL:     time.Minute,
	}
	return &authFixture{
		key:      key,
		issuer:   cfg.Issuer(),
		verifier: jwtutil.NewVerifier(cfg),
	}
}

func (f *authFixture) token(t *testing.T, subject, tenantID string) string {
	t.Helper()
	claims := jwtutil.UserClaims{
		Email:    "user@example.com",
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    f.issuer,
			Audience:  jwt.ClaimStrings{"tenant-frontend"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

// perform runs a request through the auth middleware into a handler that
// records the tenant context it observed.
func perform(t *testing.T, f *authFixture, req *http.Request) (*httptest.ResponseRecorder, *tenantctx.Value) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen tenantctx.Value
	handler := AuthMiddleware(f.verifier)(func(c echo.Context) error {
		seen = tenantctx.From(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec, &seen
}

func TestIsExempt(t *testing.T) {
	assert.True(t, isExempt("/health"))
	assert.True(t, isExempt("/metrics"))
	assert.True(t, isExempt("/auth/login"))
	assert.True(t, isExempt("/docs/static/swagger.css"))
	assert.False(t, isExempt("/api/items"))
	assert.False(t, isExempt("/healthz"))
	assert.False(t, isExempt("/authx"))
}

func TestAuthMiddleware(t *testing.T) {
	stubSyncUser(t)
	f := newAuthFixture(t)
	subject := uuid.New()
	tenant := uuid.New()

	t.Run("exempt path skips credential resolution", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec, seen := perform(t, f, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tenantctx.KindUnset, seen.Kind())
	})

	t.Run("missing token is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		rec, _ := perform(t, f, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Token abc")
		rec, _ := perform(t, f, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec, _ := perform(t, f, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token installs tenant context for the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, subject.String(), tenant.String()))
		rec, seen := perform(t, f, req)

		require.Equal(t, http.StatusOK, rec.Code)
		got, ok := seen.TenantID()
		require.True(t, ok)
		assert.Equal(t, tenant, got)
	})

	t.Run("user info lands in the echo context", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, subject.String(), tenant.String()))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		handler := AuthMiddleware(f.verifier)(func(c echo.Context) error {
			assert.Equal(t, subject, c.Get("user_id"))
			assert.Equal(t, "user@example.com", c.Get("email"))
			assert.Equal(t, tenant, c.Get("tenant_id"))
			return c.NoContent(http.StatusOK)
		})
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unresolvable tenant claim proceeds without context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, subject.String(), "not-a-uuid"))
		rec, seen := perform(t, f, req)

		// Fail-closed downstream, not rejected here.
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tenantctx.KindUnset, seen.Kind())
	})

	t.Run("malformed subject is unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, "not-a-uuid", tenant.String()))
		rec, _ := perform(t, f, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("context never leaks into the next request", func(t *testing.T) {
		// Unit of work A authenticates with a tenant.
		reqA := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		reqA.Header.Set("Authorization", "Bearer "+f.token(t, subject.String(), tenant.String()))
		recA, seenA := perform(t, f, reqA)
		require.Equal(t, http.StatusOK, recA.Code)
		_, ok := seenA.TenantID()
		require.True(t, ok)

		// Unit of work B on the same goroutine carries no credential and
		// must observe no tenant.
		reqB := httptest.NewRequest(http.MethodGet, "/health", nil)
		recB, seenB := perform(t, f, reqB)
		require.Equal(t, http.StatusOK, recB.Code)
		assert.Equal(t, tenantctx.KindUnset, seenB.Kind())
	})
}

func TestAuthMiddlewareKeySetDown(t *testing.T) {
	stubSyncUser(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	verifier := jwtutil.NewVerifier(&jwtutil.Config{
		AuthorityURL: srv.URL,
		Realm:        "tenant-realm",
		Audience:     "tenant-frontend",
		CacheTTL:     time.Minute,
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AuthMiddleware(verifier)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))

	// Key set outage is indistinguishable from a bad token to the caller.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
