// Package tool exposes the process_image operation: run the pipeline and
// hand back a URL under which the result can be fetched.
package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/q-controller/imgrelay/src/pkg/server"
	"github.com/q-controller/imgrelay/src/pkg/transform"
)

const maxRequestBytes = 1 << 20

const msgMissingParameters = "Missing required parameters: imageUrl and specs"

type Runner interface {
	Run(ctx context.Context, sourceURL string, spec transform.Spec) (string, error)
}

type Tool struct {
	runner  Runner
	baseURL string
	logger  *slog.Logger
}

// New builds the tool. baseURL is the externally reachable origin of the
// serving endpoint, e.g. http://localhost:3001.
func New(runner Runner, baseURL string, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{runner: runner, baseURL: strings.TrimSuffix(baseURL, "/"), logger: logger}
}

// ArtifactURL is where the artifact id can be fetched.
func (t *Tool) ArtifactURL(id string) string {
	return t.baseURL + server.ArtifactPath + "/" + id
}

// Process never returns a Go error: every failure is reported in the
// response with Success false.
func (t *Tool) Process(ctx context.Context, req Request) Response {
	if req.ImageURL == "" || req.Specs == nil {
		return Response{Error: msgMissingParameters}
	}

	id, err := t.runner.Run(ctx, req.ImageURL, *req.Specs)
	if err != nil {
		return Response{Error: err.Error()}
	}

	url := t.ArtifactURL(id)
	t.logger.Info("Processed image available", "url", url)
	return Response{Success: true, ProcessedImageURL: url}
}

func (t *Tool) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.logger.Warn("Failed to encode JSON response", "error", err)
	}
}

// Post runs the tool on a JSON Request body. Processing failures are
// answered with 200 and Success false; only an unreadable body is a 400.
func (t *Tool) Post(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(&req); err != nil {
		t.writeJSON(w, http.StatusBadRequest, Response{Error: "Invalid request body: " + err.Error()})
		return
	}
	t.writeJSON(w, http.StatusOK, t.Process(r.Context(), req))
}

type listResponse struct {
	Tools []Descriptor `json:"tools"`
}

func (t *Tool) List(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	t.writeJSON(w, http.StatusOK, listResponse{Tools: []Descriptor{Describe()}})
}
