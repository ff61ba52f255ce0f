// Package pipeline runs fetch, transform and register as one unit that
// either yields a registered artifact or leaves nothing on disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/q-controller/imgrelay/src/pkg/metrics"
	"github.com/q-controller/imgrelay/src/pkg/transform"
	"github.com/q-controller/imgrelay/src/pkg/utils"
	"golang.org/x/sync/semaphore"
)

type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (string, error)
}

type Transformer interface {
	Transform(ctx context.Context, inputPath string, spec transform.Spec) (string, error)
}

type Registrar interface {
	Register(location string) (string, error)
}

// Deleter removes a file on a best-effort basis.
type Deleter interface {
	DeleteOne(path string)
}

type Config struct {
	Fetcher     Fetcher
	Transformer Transformer
	Registrar   Registrar
	Deleter     Deleter
	// Workers caps concurrent transforms. Defaults to runtime.NumCPU().
	Workers      int
	FetchTimeout time.Duration
	Metrics      *metrics.Registry
	Logger       *slog.Logger
}

type Orchestrator struct {
	fetcher      Fetcher
	transformer  Transformer
	registrar    Registrar
	deleter      Deleter
	workers      *semaphore.Weighted
	fetchTimeout time.Duration
	metrics      *metrics.Registry
	logger       *slog.Logger
}

func New(config Config) *Orchestrator {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deleter := config.Deleter
	if deleter == nil {
		deleter = removeDeleter{logger: logger}
	}
	return &Orchestrator{
		fetcher:      config.Fetcher,
		transformer:  config.Transformer,
		registrar:    config.Registrar,
		deleter:      deleter,
		workers:      semaphore.NewWeighted(int64(workers)),
		fetchTimeout: config.FetchTimeout,
		metrics:      config.Metrics,
		logger:       logger,
	}
}

type removeDeleter struct {
	logger *slog.Logger
}

func (d removeDeleter) DeleteOne(path string) {
	if err := utils.RemoveIfExists(path); err != nil {
		d.logger.Warn("Could not delete file", "path", path, "error", err)
	}
}

// ValidateRequest checks the inputs of Run without doing any I/O.
func ValidateRequest(sourceURL string, spec transform.Spec) error {
	if !utils.IsHTTP(sourceURL) {
		return newError(InvalidRequest, "Invalid image URL provided", nil)
	}
	if err := spec.Validate(); err != nil {
		return newError(InvalidRequest, "Invalid processing specs", err)
	}
	return nil
}

// Run fetches sourceURL, transforms it according to spec and registers the
// result. The returned error is always a *Error.
func (o *Orchestrator) Run(ctx context.Context, sourceURL string, spec transform.Spec) (id string, retErr error) {
	started := time.Now()
	defer func() {
		result := "ok"
		var perr *Error
		if errors.As(retErr, &perr) {
			result = perr.Kind.String()
		}
		o.metrics.Inc(ctx, metrics.PipelineRuns, map[string]string{"result": result})
		if retErr != nil {
			o.logger.Warn("Image processing failed", "url", sourceURL, "error", retErr, "duration", time.Since(started))
		} else {
			o.logger.Info("Image processed", "url", sourceURL, "artifact_id", id, "duration", time.Since(started))
		}
	}()

	if err := ValidateRequest(sourceURL, spec); err != nil {
		return "", err
	}

	o.logger.Info("Processing image", "url", sourceURL, "format", spec.Format())

	downloaded, err := o.fetch(ctx, sourceURL)
	if err != nil {
		return "", newError(FetchFailed, "Error downloading image", err)
	}

	if err := o.workers.Acquire(ctx, 1); err != nil {
		o.deleter.DeleteOne(downloaded)
		return "", newError(InternalError, "Processing was cancelled", err)
	}
	output, err := o.transformer.Transform(ctx, downloaded, spec)
	o.workers.Release(1)
	o.deleter.DeleteOne(downloaded)
	if err != nil {
		if output != "" {
			o.deleter.DeleteOne(output)
		}
		return "", newError(TransformFailed, "Error processing image", err)
	}

	id, err = o.registrar.Register(output)
	if err != nil {
		o.deleter.DeleteOne(output)
		return "", newError(RegistrationFailed, "Error registering processed image", err)
	}
	return id, nil
}

func (o *Orchestrator) fetch(ctx context.Context, sourceURL string) (string, error) {
	if o.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.fetchTimeout)
		defer cancel()
	}
	path, err := o.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("fetcher returned no file for %s", sourceURL)
	}
	return path, nil
}
