package server

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/q-controller/imgrelay/src/pkg/metrics"
	"github.com/rs/cors"
)

const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// RequestLogger logs every request with a request id and counts it by
// method, route and status class.
func RequestLogger(next http.Handler, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r.URL.Path, status)
		reg.Inc(r.Context(), metrics.HTTPRequests, map[string]string{
			"method": r.Method,
			"route":  route,
			"status": metrics.StatusClass(status),
		})

		attrs := []any{
			"request_id", rid,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		}
		if status >= http.StatusInternalServerError {
			logger.Error("HTTP request failed", attrs...)
		} else {
			logger.Info("HTTP request served", attrs...)
		}
	})
}

// routeLabel keeps the request counter's label set bounded: artifact ids
// and unmatched paths are collapsed.
func routeLabel(path string, status int) string {
	switch {
	case strings.HasPrefix(path, ArtifactPath+"/"):
		return ArtifactPath + "/{id}"
	case strings.HasPrefix(path, "/swagger/"):
		return "/swagger/"
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return "unmatched"
	default:
		return path
	}
}

// CrossOrigin answers CORS preflights and reflects the request origin,
// credentials included. An empty allowedOrigins admits every origin.
func CrossOrigin(next http.Handler, allowedOrigins []string) http.Handler {
	options := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	}
	if len(allowedOrigins) == 0 {
		options.AllowOriginFunc = func(string) bool { return true }
	} else {
		options.AllowedOrigins = allowedOrigins
	}
	return cors.New(options).Handler(next)
}

// SecurityHeaders stops browsers from sniffing or framing responses.
// Cross-origin embedding of artifacts stays allowed.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "SAMEORIGIN")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Cross-Origin-Resource-Policy", "cross-origin")
		header.Set("X-DNS-Prefetch-Control", "off")
		next.ServeHTTP(w, r)
	})
}
