// Package fetch downloads source images into the scratch directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/q-controller/imgrelay/src/pkg/utils"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 50 << 20
	DefaultUserAgent = "imgrelay/1.0"
)

var ErrTooLarge = errors.New("source exceeds size limit")

type Config struct {
	Dir       string
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	// Client overrides the HTTP client. Its Timeout is left untouched.
	Client *http.Client
	Logger *slog.Logger
}

// HTTPFetcher downloads a URL to a freshly named file in Dir. The caller
// owns the returned file.
type HTTPFetcher struct {
	dir       string
	maxBytes  int64
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

func NewHTTPFetcher(config Config) *HTTPFetcher {
	f := &HTTPFetcher{
		dir:       config.Dir,
		maxBytes:  config.MaxBytes,
		userAgent: config.UserAgent,
		client:    config.Client,
		logger:    config.Logger,
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBytes
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Fetch downloads sourceURL and returns the path of the downloaded file.
// On any error nothing is left behind.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (path string, retErr error) {
	f.logger.Info("Starting file download", "url", sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			f.logger.Debug("Failed to close response body", "url", sourceURL, "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		size = -1
	}
	if size > f.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	out, err := utils.CreateScratchFile(f.dir, ".tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	path = out.Name()

	defer func() {
		if closeErr := out.Close(); closeErr != nil {
			retErr = errors.Join(retErr, closeErr)
		}
		if retErr != nil {
			if rmErr := utils.RemoveIfExists(path); rmErr != nil {
				f.logger.Warn("Failed to remove partial download", "path", path, "error", rmErr)
			}
			path = ""
		}
	}()

	// One byte past the limit tells an exact fit from an oversized body.
	body := io.LimitReader(resp.Body, f.maxBytes+1)
	progress := &progressWriter{total: size, logger: f.logger}
	written, err := io.Copy(io.MultiWriter(out, progress), body)
	if err != nil {
		return path, fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if written > f.maxBytes {
		return path, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	if written == 0 {
		return path, errors.New("source returned an empty body")
	}

	f.logger.Info("File downloaded successfully", "filepath", path, "bytes", written)
	return path, nil
}

type progressWriter struct {
	total   int64
	written int64
	logger  *slog.Logger
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pw.logger.Debug("Download progress", "progress", fmt.Sprintf("%.2f%%", float64(pw.written)/float64(pw.total)*100))
	} else {
		pw.logger.Debug("Download progress", "bytes", pw.written)
	}
	return n, nil
}
