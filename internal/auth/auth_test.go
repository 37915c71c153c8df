package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidmarket/internal/app"
	"bidmarket/internal/backend"
	"bidmarket/internal/localcache"
	"bidmarket/internal/logger"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	tok, err := s.Sign("env-1", "dev-1")
	require.NoError(t, err)

	c, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "env-1", c.EnvID)
	assert.Equal(t, "dev-1", c.DeviceID)

	_, err = NewSigner("other", time.Hour).Verify(tok)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := s.Sign("env-1", "dev-1")
	require.NoError(t, err)
	s.now = time.Now
	_, err = s.Verify(tok)
	assert.Error(t, err)
}

func newRegistry(t *testing.T) *app.Registry {
	reg := app.NewRegistry(app.Deps{
		Backend: backend.New(backend.Options{}, logger.Nop()),
		Cache:   localcache.NewMemory(),
		Logger:  logger.Nop(),
	}, time.Hour)
	t.Cleanup(reg.CloseAll)
	return reg
}

func TestEnvironmentMiddlewareCreatesThenReuses(t *testing.T) {
	reg := newRegistry(t)
	signer := NewSigner("secret", time.Hour)
	var seen []string
	h := Environment(reg, signer, false, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := EnvFromContext(r.Context())
		require.NotNil(t, env)
		seen = append(seen, env.ID)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1])
	assert.Equal(t, 1, reg.Len())
}

func TestEvictedEnvironmentKeepsDevice(t *testing.T) {
	reg := newRegistry(t)
	signer := NewSigner("secret", time.Hour)
	var devices []string
	h := Environment(reg, signer, false, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		devices = append(devices, EnvFromContext(r.Context()).DeviceID)
	}))

	tok, err := signer.Sign("gone", "dev-7")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, []string{"dev-7"}, devices)
	assert.NotEmpty(t, rec.Header().Get("X-Session-Token"))
}
