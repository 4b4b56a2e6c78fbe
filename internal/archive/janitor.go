package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// pruner is implemented by registries that do not expire entries themselves
type pruner interface {
	Prune(now time.Time) int
}

// Janitor removes archive files older than the TTL
type Janitor struct {
	dir      string
	ttl      time.Duration
	interval time.Duration
	registry Registry
	logger   logger.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewJanitor creates a Janitor for the archives written by packager
func NewJanitor(packager *Packager, registry Registry, interval time.Duration, logger logger.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &Janitor{
		dir:      packager.Dir(),
		ttl:      packager.TTL(),
		interval: interval,
		registry: registry,
		logger:   logger,
	}
}

// Sweep deletes the archives that expired before now. Failures on single
// files do not stop the sweep; they are returned together.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list archive dir: %w", err)
	}

	var result *multierror.Error
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if now.Sub(info.ModTime()) < j.ttl {
			continue
		}

		if err := os.Remove(filepath.Join(j.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}

	if p, ok := j.registry.(pruner); ok {
		p.Prune(now)
	}

	return removed, result.ErrorOrNil()
}

// Start runs Sweep every interval until Stop
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.running = true
	j.wg.Add(1)

	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()

	j.logger.Info("Archive janitor started", "dir", j.dir, "ttl", j.ttl, "interval", j.interval)
}

// Stop stops the sweep loop and waits for it to exit
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}

	j.cancel()
	j.wg.Wait()
	j.running = false

	j.logger.Info("Archive janitor stopped")
}

func (j *Janitor) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.Sweep(models.GetCurrentTime())
			if err != nil {
				j.logger.Error("Archive sweep finished with errors", "error", err, "removed", removed)
				continue
			}
			if removed > 0 {
				j.logger.Info("Removed expired archives", "removed", removed)
			}
		}
	}
}
