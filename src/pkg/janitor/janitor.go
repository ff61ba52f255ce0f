// Package janitor reclaims scratch-directory space. Sweep is the
// restart-proof backstop: it deletes by file age alone and never consults
// in-memory state, so files whose expiry timers were lost still go away.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/q-controller/imgrelay/src/pkg/metrics"
	"github.com/q-controller/imgrelay/src/pkg/utils"
)

const (
	DefaultMaxAge   = time.Hour
	DefaultInterval = time.Hour
)

type Config struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Registry
}

type Janitor struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

func New(config Config) *Janitor {
	j := &Janitor{
		dir:      config.Dir,
		maxAge:   config.MaxAge,
		interval: config.Interval,
		clock:    config.Clock,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}
	if j.interval <= 0 {
		j.interval = DefaultInterval
	}
	if j.maxAge < 0 {
		j.maxAge = DefaultMaxAge
	}
	if j.clock == nil {
		j.clock = clockwork.NewRealClock()
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

func (j *Janitor) Dir() string {
	return j.dir
}

// DeleteOne removes path on a best-effort basis. A file that is already
// gone is fine; any other failure is logged and dropped.
func (j *Janitor) DeleteOne(path string) {
	if err := utils.RemoveIfExists(path); err != nil {
		j.logger.Warn("Could not delete file", "path", path, "error", err)
		j.metrics.Inc(context.Background(), metrics.JanitorFailures, nil)
		return
	}
	j.logger.Debug("Deleted file", "path", path)
}

// Sweep deletes every regular file in the scratch directory whose age is
// at least maxAge and returns how many it removed. With maxAge <= 0 the
// directory is emptied without looking at modification times.
func (j *Janitor) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Warn("Could not read scratch directory", "dir", j.dir, "error", err)
		return 0
	}

	now := j.clock.Now()
	deleted := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if maxAge > 0 {
			info, infoErr := entry.Info()
			if infoErr != nil {
				// Removed between ReadDir and Info.
				continue
			}
			if now.Sub(info.ModTime()) < maxAge {
				continue
			}
		}

		path := filepath.Join(j.dir, entry.Name())
		if rmErr := utils.RemoveIfExists(path); rmErr != nil {
			j.logger.Warn("Could not delete file during sweep", "path", path, "error", rmErr)
			j.metrics.Inc(context.Background(), metrics.JanitorFailures, nil)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		j.metrics.Add(context.Background(), metrics.JanitorDeleted, nil, int64(deleted))
		j.logger.Info("Swept scratch directory", "dir", j.dir, "deleted", deleted, "max_age", maxAge)
	}
	return deleted
}

// Start runs Sweep with the configured max age on every interval tick
// until Stop is called.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		return
	}

	j.stop = make(chan struct{})
	j.stopped = make(chan struct{})
	ticker := j.clock.NewTicker(j.interval)

	go func(stop <-chan struct{}, stopped chan<- struct{}) {
		defer close(stopped)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				j.Sweep(j.maxAge)
			}
		}
	}(j.stop, j.stopped)

	j.logger.Info("Janitor started", "dir", j.dir, "interval", j.interval, "max_age", j.maxAge)
}

func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop == nil {
		return
	}
	close(j.stop)
	<-j.stopped
	j.stop = nil
	j.stopped = nil
}
