// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthOpenWhenTokenUnset(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, http.StatusOK, f.get("/api/status", nil))
}

func TestAuthEnforcedWhenTokenSet(t *testing.T) {
	f := newFixture(t, Config{APIToken: "sekrit"})

	resp, err := http.Get(f.ts.URL + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The fixture attaches the right token.
	require.Equal(t, http.StatusOK, f.get("/api/status", nil))
}

func TestSystemEndpointsStayOpen(t *testing.T) {
	f := newFixture(t, Config{APIToken: "sekrit"})

	for _, path := range []string{"/healthz", "/version", "/metrics"} {
		resp, err := http.Get(f.ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestReadyzFlipsAfterFirstIndexLoad(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.ts.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.seedBasic()

	resp, err = http.Get(f.ts.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestVersionEndpoint(t *testing.T) {
	f := newFixture(t, Config{})

	var body map[string]string
	require.Equal(t, http.StatusOK, f.get("/version", &body))
	require.Contains(t, body, "version")
	require.Contains(t, body, "commit")
}
