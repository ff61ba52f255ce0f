package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/q-controller/imgrelay/src/imgrelayd/cmd/utils"
	"github.com/q-controller/imgrelay/src/pkg/artifacts"
	"github.com/q-controller/imgrelay/src/pkg/artifacts/ledger"
	"github.com/q-controller/imgrelay/src/pkg/events"
	"github.com/q-controller/imgrelay/src/pkg/fetch"
	"github.com/q-controller/imgrelay/src/pkg/janitor"
	"github.com/q-controller/imgrelay/src/pkg/metrics"
	"github.com/q-controller/imgrelay/src/pkg/pipeline"
	"github.com/q-controller/imgrelay/src/pkg/server"
	"github.com/q-controller/imgrelay/src/pkg/settings"
	"github.com/q-controller/imgrelay/src/pkg/tool"
	"github.com/q-controller/imgrelay/src/pkg/transform"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/sync/errgroup"
)

const (
	metricsPath = "/metrics"
	eventsPath  = "/v1/events"
	openAPIPath = "/openapi.yaml"
	swaggerPath = "/swagger/"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the image processing and serving endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, configPathErr := cmd.Flags().GetString("config")
		if configPathErr != nil {
			return fmt.Errorf("failed to get config: %w", configPathErr)
		}

		config, configErr := settings.Load(configPath)
		if configErr != nil {
			return configErr
		}
		slog.Debug("Read config", "config", config)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return Serve(ctx, config)
	},
}

// Version is reported to MCP clients.
var Version = "1.0.0"

// relay is every long-lived component of a running process.
type relay struct {
	config       *settings.Config
	logger       *slog.Logger
	metrics      *metrics.Registry
	publisher    *events.Publisher
	registry     *artifacts.Registry
	orchestrator *pipeline.Orchestrator
	tool         *tool.Tool

	closers []func() error
}

// Serve runs the relay until ctx is cancelled.
func Serve(ctx context.Context, config *settings.Config) (retErr error) {
	r, startErr := startRelay(config)
	if startErr != nil {
		return startErr
	}
	defer func() {
		retErr = errors.Join(retErr, r.Close())
	}()
	return r.serveHTTP(ctx)
}

func startRelay(config *settings.Config) (r *relay, retErr error) {
	scratchDir, absErr := filepath.Abs(config.Scratch.Dir)
	if absErr != nil {
		return nil, fmt.Errorf("failed to resolve scratch dir: %w", absErr)
	}
	if mkdirErr := os.MkdirAll(scratchDir, 0755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", mkdirErr)
	}

	r = &relay{
		config:    config,
		logger:    slog.Default(),
		metrics:   metrics.NewRegistry(),
		publisher: events.NewPublisher(),
	}
	defer func() {
		if retErr != nil {
			retErr = errors.Join(retErr, r.Close())
		}
	}()
	r.metrics.Install()
	r.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()
		return r.metrics.Shutdown(shutdownCtx)
	})
	r.onClose(func() error {
		r.publisher.Close()
		return nil
	})

	jan := janitor.New(janitor.Config{
		Dir:      scratchDir,
		MaxAge:   config.Scratch.MaxAge,
		Interval: config.Scratch.SweepInterval,
		Logger:   r.logger,
		Metrics:  r.metrics,
	})

	var store ledger.Ledger
	if ledgerDir := config.LedgerDir(); ledgerDir != "" {
		badgerLedger, ledgerErr := ledger.NewBadgerLedger(ledgerDir)
		if ledgerErr != nil {
			return nil, ledgerErr
		}
		store = badgerLedger
		r.onClose(func() error {
			if closeErr := badgerLedger.Close(); closeErr != nil {
				return fmt.Errorf("failed to close ledger: %w", closeErr)
			}
			return nil
		})
	}

	r.registry = artifacts.New(artifacts.Config{
		Ledger:  store,
		Deleter: jan,
		Events:  r.publisher,
		Metrics: r.metrics,
		Logger:  r.logger,
	})
	r.onClose(func() error {
		r.registry.Stop()
		return nil
	})

	recoverScratch(r.registry, jan, config.Scratch.MaxAge, r.logger)
	jan.Start()
	r.onClose(func() error {
		jan.Stop()
		return nil
	})

	if config.Scratch.Watch {
		watcher := janitor.NewWatcher(scratchDir, r.registry, r.logger)
		if watchErr := watcher.Start(); watchErr != nil {
			r.logger.Warn("Scratch directory watcher disabled", "error", watchErr)
		} else {
			r.onClose(func() error {
				watcher.Stop()
				return nil
			})
		}
	}

	r.orchestrator = pipeline.New(pipeline.Config{
		Fetcher: fetch.NewHTTPFetcher(fetch.Config{
			Dir:       scratchDir,
			Timeout:   config.Fetch.Timeout,
			MaxBytes:  config.Fetch.MaxBytes,
			UserAgent: config.Fetch.UserAgent,
			Logger:    r.logger,
		}),
		Transformer:  transform.NewImageTransformer(scratchDir, r.logger),
		Registrar:    r.registry,
		Deleter:      jan,
		Workers:      config.Transform.Workers,
		FetchTimeout: config.Fetch.Timeout,
		Metrics:      r.metrics,
		Logger:       r.logger,
	})
	r.tool = tool.New(r.orchestrator, config.BaseURL(), r.logger)
	return r, nil
}

// recoverScratch deletes what a previous process left behind: artifacts
// the ledger still tracks go at once, anything else once the age sweep
// considers it old.
func recoverScratch(registry *artifacts.Registry, jan *janitor.Janitor, maxAge time.Duration, logger *slog.Logger) {
	if reclaimed, startErr := registry.Start(); startErr != nil {
		logger.Warn("Failed to reclaim every artifact from the previous run", "reclaimed", reclaimed, "error", startErr)
	}
	jan.Sweep(maxAge)
}

func (r *relay) onClose(closer func() error) {
	r.closers = append(r.closers, closer)
}

// Close releases components in reverse start order.
func (r *relay) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *relay) serveHTTP(ctx context.Context) error {
	handler, handlerErr := createRouter(r.config, r.registry, r.tool, r.metrics, r.publisher)
	if handlerErr != nil {
		return handlerErr
	}

	srv := &http.Server{
		Addr:              r.config.ListenAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("HTTP server listening", "address", srv.Addr, "base_url", r.config.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.config.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("Graceful shutdown timed out, forcing stop", "error", err)
			return srv.Close()
		}
		r.logger.Info("Graceful shutdown completed")
		return nil
	})
	return g.Wait()
}

func createRouter(config *settings.Config, registry *artifacts.Registry, processImage *tool.Tool,
	reg *metrics.Registry, publisher *events.Publisher) (http.Handler, error) {
	mux := runtime.NewServeMux()

	handler, handlerErr := server.CreateHandler(server.Config{
		Registry: registry,
		ServeTTL: config.Artifacts.ServeTTL,
	})
	if handlerErr != nil {
		return nil, handlerErr
	}
	if err := handler.Register(mux, config.Server.Diagnostics); err != nil {
		return nil, fmt.Errorf("failed to register artifact routes: %w", err)
	}
	if err := processImage.Register(mux); err != nil {
		return nil, fmt.Errorf("failed to register tool routes: %w", err)
	}

	root := http.NewServeMux()
	root.Handle("/", server.RequestLogger(mux, reg, slog.Default()))
	outer := server.SecurityHeaders(server.CrossOrigin(root, config.Server.AllowedOrigins))

	if !config.Server.Diagnostics {
		return outer, nil
	}

	if err := errors.Join(
		mux.HandlePath("GET", metricsPath, reg.Get),
		mux.HandlePath("GET", eventsPath, publisher.Stream),
		mux.HandlePath("GET", openAPIPath, serveOpenAPI),
	); err != nil {
		slog.Warn("Adding diagnostic endpoints failed", "error", err)
	}
	root.Handle(swaggerPath, httpSwagger.Handler(httpSwagger.URL(openAPIPath)))
	return outer, nil
}

func serveOpenAPI(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	specs, specsErr := utils.GenerateOpenAPISpecs()
	if specsErr != nil {
		slog.Error("Failed to generate OpenAPI specs", "error", specsErr)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write([]byte(specs)); err != nil {
		slog.Warn("Failed to write OpenAPI specs", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "Path to the server's config file (defaults are used when empty)")
}
