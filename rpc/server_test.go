package rpc

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/repository"
)

func newTestServer(config ServerConfig) *Server {
	d := NewDispatcher()
	RegisterMemoryMethods(d, Services{Repo: repository.New()})
	return NewServer(d, config, nil)
}

func TestServer_HealthEndpointNeedsNoAuth(t *testing.T) {
	s := newTestServer(ServerConfig{MasterAPIKey: "secret"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RPCWithoutTokenIsUnauthorized(t *testing.T) {
	s := newTestServer(ServerConfig{MasterAPIKey: "secret"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "health"})
	resp, err := http.Post(ts.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RPCWithMasterKeySucceeds(t *testing.T) {
	s := newTestServer(ServerConfig{MasterAPIKey: "secret"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "health", ID: json.RawMessage(`"abc"`)})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Nil(t, decoded.Error)
	assert.Equal(t, json.RawMessage(`"abc"`), decoded.ID)
}

func TestServer_NoAuthConfiguredAllowsAllRequests(t *testing.T) {
	s := newTestServer(ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "health"})
	resp, err := http.Post(ts.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
