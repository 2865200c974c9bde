package server

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devtls "github.com/loykin/devrun/internal/tls"
)

func TestServer_HTTP(t *testing.T) {
	f := newFixture(t)
	s, err := NewServer("127.0.0.1:0", f.handler("/api"), nil, nil)
	require.NoError(t, err)

	resp, err := http.Get(s.URL() + "/api/projects")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-s.Done())
}

func TestServer_TLS(t *testing.T) {
	f := newFixture(t)
	cfg, err := devtls.Setup(devtls.Config{Enabled: true, Dir: filepath.Join(t.TempDir(), "tls"), AutoGenerate: true})
	require.NoError(t, err)
	s, err := NewServer("127.0.0.1:0", f.handler(""), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = s.Shutdown(context.Background()) }()
	require.Contains(t, s.URL(), "https://")

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 self-signed test certificate
	}}
	resp, err := client.Get(s.URL() + "/projects")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ShutdownEndsEventStreams(t *testing.T) {
	f := newFixture(t)
	s, err := NewServer("127.0.0.1:0", f.handler(""), nil, nil)
	require.NoError(t, err)

	resp, err := http.Get(s.URL() + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 4*time.Second)
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err)
}
