package server

import (
	"errors"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const (
	ArtifactPath  = "/artifact"
	ArtifactsPath = "/artifacts"
	HealthPath    = "/health"
)

// Register adds the artifact and health routes to mux. The listing route
// is only added with diagnostics on.
func (h *Handler) Register(mux *runtime.ServeMux, diagnostics bool) error {
	errs := []error{
		mux.HandlePath("GET", ArtifactPath+"/{id}", h.GetArtifact),
		mux.HandlePath("GET", HealthPath, h.Health),
	}
	if diagnostics {
		errs = append(errs, mux.HandlePath("GET", ArtifactsPath, h.List))
	}
	return errors.Join(errs...)
}
