package bank

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukisa/paybot/core/session"
)

func newTestVerifier(t *testing.T, handler http.HandlerFunc) *Verifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewVerifier(Config{AccountEndpoint: srv.URL + "/accounts/verify", Timeout: 2 * time.Second})
}

func TestVerifyAccountValid(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req verifyRequest
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &req))
		assert.Equal(t, "tv", req.Service)
		assert.Equal(t, "12345", req.AccountNumber)

		json.NewEncoder(w).Encode(verifyResponse{Valid: true})
	})

	ok, err := v.VerifyAccount(context.Background(), session.ServiceTV, "12345")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyAccountRejected(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Valid: false})
	})
	ok, err := v.VerifyAccount(context.Background(), session.ServiceWater, "99999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAccountNotFoundMeansInvalid(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ok, err := v.VerifyAccount(context.Background(), session.ServiceUmeme, "00000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAccountUpstreamFailure(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := v.VerifyAccount(context.Background(), session.ServiceTV, "12345")
	assert.Error(t, err)
}

func TestStaticVerifier(t *testing.T) {
	v := SandboxVerifier()
	ctx := context.Background()

	ok, err := v.VerifyAccount(ctx, session.ServiceTV, "12345")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.VerifyAccount(ctx, session.ServiceTV, "99999")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.VerifyAccount(ctx, session.ServiceWater, "67890")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.VerifyAccount(ctx, session.ServiceUmeme, "54321")
	require.NoError(t, err)
	assert.True(t, ok)
}
