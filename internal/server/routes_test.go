package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"rwa/engine"
	"rwa/store"

	"github.com/stretchr/testify/require"
)

const (
	testKeyID  = "client-1"
	testSecret = "s3cret"
)

func newTestServer(t *testing.T, authorities engine.AuthoritySet) *httptest.Server {
	t.Helper()
	if authorities == nil {
		authorities = engine.NewStaticAuthorities([]string{"risk-desk"})
	}
	e, err := engine.New(engine.Options{
		Store:       store.NewMemory(),
		Authorities: authorities,
	})
	require.NoError(t, err)

	s := New(Options{
		Port:        8080,
		Engine:      e,
		AuthKeys:    map[string][]byte{testKeyID: []byte(testSecret)},
		AllowedSkew: DefaultAllowedSkew,
	})
	ts := httptest.NewServer(s.RegisterRoutes())
	t.Cleanup(ts.Close)
	return ts
}

// do sends a signed request. Public routes ignore the signature headers.
func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Key-ID", testKeyID)
	req.Header.Set("X-Timestamp", stamp)
	req.Header.Set("X-Signature", Sign([]byte(testSecret), stamp, raw))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHandler(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("%s/health", ts.URL))
	if err != nil {
		t.Fatalf("error making request to server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status OK; got %v", resp.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	do(t, ts, http.MethodGet, "/health", nil)
	resp, body := do(t, ts, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "rwa_http_requests_total")
}
