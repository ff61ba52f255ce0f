package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchWritesScratchFile(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(Config{Dir: dir, UserAgent: "test-agent"})

	path, err := f.Fetch(context.Background(), srv.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".tmp"))
	assert.Equal(t, "test-agent", gotUA)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFetchConcurrentNamesAreDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(Config{Dir: dir})
	first, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, dirEntries(t, dir), 2)
}

func TestFetchFailuresLeaveNothingBehind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 64)))
		case "/declared-big":
			w.Header().Set("Content-Length", "1000")
			_, _ = w.Write([]byte(strings.Repeat("a", 1000)))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		path    string
		message string
	}{
		{name: "status", path: "/missing", message: "unexpected status code: 404"},
		{name: "streamed body over limit", path: "/big", message: "exceeds size limit"},
		{name: "declared length over limit", path: "/declared-big", message: "exceeds size limit"},
		{name: "empty body", path: "/empty", message: "empty body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			f := NewHTTPFetcher(Config{Dir: dir, MaxBytes: 32})
			path, err := f.Fetch(context.Background(), srv.URL+tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
			assert.Empty(t, path)
			assert.Empty(t, dirEntries(t, dir))
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dir := t.TempDir()
	_, err := NewHTTPFetcher(Config{Dir: dir}).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	f := NewHTTPFetcher(Config{Dir: dir, Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	_, err := NewHTTPFetcher(Config{Dir: dir}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, dir))
}
