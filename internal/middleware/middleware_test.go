package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataroute/internal/middleware"
)

// ── Logger ───────────────────────────────────────────────────────────────────

func TestLogger_AddsRequestID(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = middleware.RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	middleware.Logger(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups", nil))

	_, err := uuid.Parse(captured)
	assert.NoError(t, err, "request IDs are UUIDs")
	assert.Equal(t, captured, rec.Header().Get(middleware.RequestIDHeader))
}

func TestLogger_KeepsCallerRequestID(t *testing.T) {
	id := uuid.NewString()
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = middleware.RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, id)
	rec := httptest.NewRecorder()
	middleware.Logger(inner).ServeHTTP(rec, req)

	assert.Equal(t, id, captured)
	assert.Equal(t, id, rec.Header().Get(middleware.RequestIDHeader))
}

func TestLogger_ReplacesMalformedRequestID(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = middleware.RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "not\na-uuid")
	middleware.Logger(inner).ServeHTTP(httptest.NewRecorder(), req)

	_, err := uuid.Parse(captured)
	assert.NoError(t, err)
}

func TestLogger_CapturesDownstreamStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	middleware.Logger(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestLogger_UniqueRequestIDs(t *testing.T) {
	ids := map[string]struct{}{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids[middleware.RequestID(r.Context())] = struct{}{}
	})
	handler := middleware.Logger(inner)

	for range 50 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Len(t, ids, 50, "every request should receive a unique request ID")
}

// ── RateLimiter ──────────────────────────────────────────────────────────────

func TestRateLimiter_AllowsBurst(t *testing.T) {
	handler := newLimited(t, 0.001, 3)

	for i := range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newReq("192.168.1.1:1234"))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d within burst should pass", i+1)
	}
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	handler := newLimited(t, 0.001, 3)

	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), newReq("10.0.0.1:9999"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("10.0.0.1:9999"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "4th request must be rate-limited")
}

func TestRateLimiter_IndependentPerIP(t *testing.T) {
	handler := newLimited(t, 0.001, 2)

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), newReq("1.2.3.4:1111"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("5.6.7.8:2222"))
	assert.Equal(t, http.StatusOK, rec.Code, "a different IP must have its own bucket")
}

func TestRateLimiter_IgnoresForwardingHeaders(t *testing.T) {
	handler := newLimited(t, 0.001, 1)

	handler.ServeHTTP(httptest.NewRecorder(), newReq("1.2.3.4:1111"))

	req := newReq("1.2.3.4:1111")
	req.Header.Set("X-Real-IP", "9.9.9.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := middleware.NewRateLimiter(1, 1)
	assert.NotPanics(t, func() {
		rl.Stop()
		rl.Stop()
	})
}

// ── JWTAuth ──────────────────────────────────────────────────────────────────

const testSecret = "test-signing-secret-256bits-long!"

func TestJWTAuth_MissingToken_Returns401(t *testing.T) {
	handler := middleware.JWTAuth(testSecret, nil)(ok200())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_WrongSecret_Returns401(t *testing.T) {
	handler := middleware.JWTAuth(testSecret, nil)(ok200())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withToken(signedToken(t, "another-secret", time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_ExpiredToken_Returns401(t *testing.T) {
	handler := middleware.JWTAuth(testSecret, nil)(ok200())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withToken(signedToken(t, testSecret, -time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_TokenWithoutExpiry_Returns401(t *testing.T) {
	handler := middleware.JWTAuth(testSecret, nil)(ok200())

	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "ops"})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withToken(s))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_OtherHMACAlgorithm_Returns401(t *testing.T) {
	handler := middleware.JWTAuth(testSecret, nil)(ok200())

	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, jwtlib.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withToken(s))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_ValidToken_PassesSubject(t *testing.T) {
	var subject string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = middleware.Subject(r.Context())
	})
	handler := middleware.JWTAuth(testSecret, nil)(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withToken(signedToken(t, testSecret, time.Hour)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-user", subject)
}

func TestJWTAuth_ExcludedPath_NoTokenNeeded(t *testing.T) {
	handler := middleware.JWTAuth(testSecret, []string{"/healthz", "/metrics"})(ok200())

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "excluded path %s must pass without token", path)
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

func ok200() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newLimited(t *testing.T, rps float64, burst int) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(rps, burst)
	t.Cleanup(rl.Stop)
	return rl.Middleware(ok200())
}

func newReq(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func withToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func signedToken(t *testing.T, secret string, ttl time.Duration) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "test-user",
		"exp": time.Now().Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}
