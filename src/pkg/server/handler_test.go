package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jonboulle/clockwork"
	"github.com/q-controller/imgrelay/src/pkg/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *clockwork.FakeClock
	registry *artifacts.Registry
	server   *httptest.Server
	dir      string
}

func newFixture(t *testing.T, diagnostics bool) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClockAt(epoch), dir: t.TempDir()}
	f.registry = artifacts.New(artifacts.Config{Clock: f.clock})
	t.Cleanup(f.registry.Stop)

	handler, err := CreateHandler(Config{Registry: f.registry, ServeTTL: time.Hour, Clock: f.clock})
	require.NoError(t, err)

	mux := runtime.NewServeMux()
	require.NoError(t, handler.Register(mux, diagnostics))
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) artifact(t *testing.T, name, body string) (string, string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	id, err := f.registry.Register(path)
	require.NoError(t, err)
	return id, path
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":    "image/jpeg",
		"a.jpeg":   "image/jpeg",
		"a.JPEG":   "image/jpeg",
		"a.png":    "image/png",
		"a.webp":   "image/webp",
		"a.avif":   "image/avif",
		"a.tiff":   "image/tiff",
		"a.tif":    "image/tiff",
		"a.gif":    "application/octet-stream",
		"a.tmp":    "application/octet-stream",
		"no-ext":   "application/octet-stream",
		"/x/y.Png": "image/png",
	}
	for path, want := range tests {
		assert.Equal(t, want, ContentType(path), path)
	}
}

func TestGetArtifactServesEveryFormat(t *testing.T) {
	f := newFixture(t, true)
	for ext, contentType := range map[string]string{
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".avif": "image/avif",
		".tiff": "image/tiff",
	} {
		t.Run(ext, func(t *testing.T) {
			id, _ := f.artifact(t, "image"+ext, "bytes of "+ext)
			resp, body := f.get(t, "/artifact/"+id)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, contentType, resp.Header.Get("Content-Type"))
			assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
			assert.Equal(t, "bytes of "+ext, string(body))
		})
	}
}

func TestGetArtifactUnknown(t *testing.T) {
	f := newFixture(t, true)
	resp, body := f.get(t, "/artifact/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Image not found"}`, string(body))
}

func TestGetArtifactExpiresAfterFirstServe(t *testing.T) {
	f := newFixture(t, true)
	id, path := f.artifact(t, "a.webp", "webp")

	// Registration alone does not start the countdown.
	f.clock.Advance(3 * time.Hour)
	resp, _ := f.get(t, "/artifact/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.clock.Advance(30 * time.Minute)
	resp, _ = f.get(t, "/artifact/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	f.clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool {
		_, ok := f.registry.Lookup(id)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	resp, body := f.get(t, "/artifact/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Image not found"}`, string(body))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetArtifactVanishedFile(t *testing.T) {
	f := newFixture(t, true)
	id, path := f.artifact(t, "a.png", "png")
	require.NoError(t, os.Remove(path))

	resp, body := f.get(t, "/artifact/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Image not found"}`, string(body))
	assert.Empty(t, f.registry.List())
}

func TestGetArtifactSupportsRanges(t *testing.T) {
	f := newFixture(t, true)
	id, _ := f.artifact(t, "a.png", "0123456789")

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/artifact/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "234", string(body))
}

func TestList(t *testing.T) {
	f := newFixture(t, true)
	id, _ := f.artifact(t, "a.png", "png")

	resp, body := f.get(t, "/artifacts")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list listResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, []string{id}, list.Images)
	assert.Equal(t, 1, list.Count)
}

func TestListEmptyIsArray(t *testing.T) {
	f := newFixture(t, true)
	_, body := f.get(t, "/artifacts")
	assert.JSONEq(t, `{"images":[],"count":0}`, string(body))
}

func TestListDisabledWithoutDiagnostics(t *testing.T) {
	f := newFixture(t, false)
	resp, _ := f.get(t, "/artifacts")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","timestamp":"2026-03-01T12:00:00.000Z"}`, string(body))
}

type brokenRegistry struct{}

func (brokenRegistry) Resolve(string) (artifacts.Record, error) {
	return artifacts.Record{}, errors.New("permission denied: /secret/path")
}
func (brokenRegistry) MarkServed(string, time.Duration) bool { return false }
func (brokenRegistry) Purge(string)                          {}
func (brokenRegistry) List() []string                        { return nil }

func TestGetArtifactInternalErrorHidesDetails(t *testing.T) {
	handler, err := CreateHandler(Config{Registry: brokenRegistry{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.GetArtifact(rec, httptest.NewRequest(http.MethodGet, "/artifact/x", nil), map[string]string{"id": "x"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestCreateHandlerRequiresRegistry(t *testing.T) {
	_, err := CreateHandler(Config{})
	require.Error(t, err)
}

func TestOpenAPISpec(t *testing.T) {
	assert.Empty(t, GetOpenAPISpec(""))
	spec := GetOpenAPISpec("Artifacts")
	assert.Contains(t, spec, "/artifact/{id}:")
	assert.Contains(t, spec, "/artifacts:")
	assert.Contains(t, spec, "/health:")
}
