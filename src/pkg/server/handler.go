// Package server exposes registered artifacts over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/q-controller/imgrelay/src/pkg/artifacts"
)

const (
	DefaultServeTTL = time.Hour

	msgNotFound = "Image not found"
	msgInternal = "Internal server error"
)

// Registry is the part of artifacts.Registry the handlers need.
type Registry interface {
	Resolve(id string) (artifacts.Record, error)
	MarkServed(id string, ttl time.Duration) bool
	Purge(id string)
	List() []string
}

type Config struct {
	Registry Registry
	// ServeTTL is how long an artifact stays available after its first
	// successful serve.
	ServeTTL time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type Handler struct {
	registry Registry
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

func CreateHandler(config Config) (*Handler, error) {
	if config.Registry == nil {
		return nil, errors.New("registry must be set")
	}
	h := &Handler{
		registry: config.Registry,
		ttl:      config.ServeTTL,
		clock:    config.Clock,
		logger:   config.Logger,
	}
	if h.ttl <= 0 {
		h.ttl = DefaultServeTTL
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse struct {
	Images []string `json:"images"`
	Count  int      `json:"count"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode JSON response", "error", err)
	}
}

// GetArtifact streams the artifact named by pathParams["id"]. The first
// successful serve starts the artifact's expiry countdown.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id := pathParams["id"]
	if id == "" {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
		return
	}

	record, resolveErr := h.registry.Resolve(id)
	if resolveErr != nil {
		if errors.Is(resolveErr, artifacts.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
			return
		}
		h.logger.Error("Failed to resolve artifact", "artifact_id", id, "error", resolveErr)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
		return
	}

	file, openErr := os.Open(record.Location)
	if openErr != nil {
		if errors.Is(openErr, fs.ErrNotExist) {
			// Deleted between Resolve and Open.
			h.registry.Purge(id)
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
			return
		}
		h.logger.Error("Failed to open artifact", "artifact_id", id, "error", openErr)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			h.logger.Warn("Failed to close artifact", "artifact_id", id, "error", err)
		}
	}()

	info, statErr := file.Stat()
	if statErr != nil {
		h.logger.Error("Failed to stat artifact", "artifact_id", id, "error", statErr)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
		return
	}

	// The open descriptor keeps the bytes readable even if expiry deletes
	// the file while it is being streamed.
	h.registry.MarkServed(id, h.ttl)

	w.Header().Set("Content-Type", ContentType(record.Location))
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(h.ttl/time.Second)))
	http.ServeContent(w, r, "", info.ModTime(), file)
}

// List answers with every registered identifier.
func (h *Handler) List(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	ids := h.registry.List()
	h.writeJSON(w, http.StatusOK, listResponse{Images: ids, Count: len(ids)})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}
