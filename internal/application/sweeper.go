package application

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
)

// ErrRateLimited is returned when the sweep API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// SweepResult contains the result of one drop directory sweep.
type SweepResult struct {
	Ingested        int       `json:"ingested"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	SweptAt         time.Time `json:"swept_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// fileStamp identifies one observed state of a drop file.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// SweepService ingests files dropped into a watched directory as if
// they had been uploaded, removing them once the layer is published.
type SweepService struct {
	uploads  *UploadService
	ingest   *IngestService
	dir      string
	interval time.Duration
	settle   time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh chan struct{}
	kick   chan struct{}
	wg     sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISweep time.Time
	apiMutex     sync.Mutex

	// Prevents concurrent sweep operations
	sweepOpMutex sync.Mutex

	// Track next scheduled sweep for reporting
	nextSweep time.Time
	sweepMu   sync.RWMutex

	// Files already attempted, keyed by path. A file is retried only
	// when its size or mtime changed since the last attempt.
	seen   map[string]fileStamp
	seenMu sync.Mutex
}

// SweepConfig holds configuration for the sweep service.
type SweepConfig struct {
	Dir      string        // Drop directory to watch
	Interval time.Duration // Rescan interval
	Settle   time.Duration // Minimum file age before it is picked up
}

// NewSweepService creates a new sweep service.
func NewSweepService(uploads *UploadService, ingest *IngestService, cfg SweepConfig, logger *slog.Logger) *SweepService {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}

	return &SweepService{
		uploads:  uploads,
		ingest:   ingest,
		dir:      cfg.Dir,
		interval: cfg.Interval,
		settle:   cfg.Settle,
		logger:   logger,
		stopCh:   make(chan struct{}),
		kick:     make(chan struct{}, 1),
		// Initialize to past time to allow immediate first API call
		lastAPISweep: time.Now().Add(-31 * time.Second),
		seen:         make(map[string]fileStamp),
	}
}

// Start begins the periodic sweep scheduler.
func (s *SweepService) Start(ctx context.Context) {
	s.logger.Info("starting sweep service", "dir", s.dir, "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main sweep loop.
func (s *SweepService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Pick up files dropped while the service was down.
	s.doSweep(ctx)
	s.setNextSweep(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sweep service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sweep triggered")
			s.doSweep(ctx)
			s.setNextSweep(time.Now().Add(s.interval))
		case <-s.kick:
			// Let a burst of watcher events settle into one sweep.
			timer := time.NewTimer(s.settle)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopCh:
				timer.Stop()
				return
			}
			s.doSweep(ctx)
		}
	}
}

// Stop gracefully stops the sweep service.
func (s *SweepService) Stop() {
	s.logger.Info("stopping sweep service")
	close(s.stopCh)
	s.wg.Wait()
}

// Notify nudges the service to sweep soon, called by the directory
// watcher. Never blocks.
func (s *SweepService) Notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// TriggerSweep manually triggers a sweep with rate limiting. Returns
// ErrRateLimited if called more than 2 times per minute.
func (s *SweepService) TriggerSweep(ctx context.Context) (SweepResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	// Rate limit: 30 seconds cooldown (allows ~2 requests per minute)
	if time.Since(s.lastAPISweep) < 30*time.Second {
		return SweepResult{}, ErrRateLimited
	}
	s.lastAPISweep = time.Now()

	result := s.doSweep(ctx)
	result.NextScheduledAt = s.getNextSweep()
	return result, nil
}

// doSweep scans the drop directory once and processes every stable,
// recognized file that has not been attempted in its current state.
func (s *SweepService) doSweep(ctx context.Context) SweepResult {
	// Prevent concurrent sweep operations
	s.sweepOpMutex.Lock()
	defer s.sweepOpMutex.Unlock()

	result := SweepResult{SweptAt: time.Now()}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("reading drop directory failed", "dir", s.dir, "error", err)
		return result
	}

	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		kind, ok := classifyDropFile(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		present[path] = struct{}{}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}

		if time.Since(info.ModTime()) < s.settle {
			// Still being written, the next sweep gets it.
			result.Skipped++
			continue
		}
		if s.alreadyAttempted(path, stamp) {
			result.Skipped++
			continue
		}

		if err := s.processFile(ctx, path, kind); err != nil {
			s.logger.Error("drop file ingestion failed", "path", path, "error", err)
			s.markAttempted(path, stamp)
			result.Failed++
			continue
		}
		s.logger.Info("drop file ingested", "path", path, "kind", kind)
		result.Ingested++
	}
	s.pruneSeen(present)

	if result.Ingested > 0 || result.Failed > 0 {
		s.logger.Info("sweep completed",
			"ingested", result.Ingested,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
	}
	return result
}

// processFile stages one drop file and runs the matching ingestion. The
// drop file is removed only after the layer is published.
func (s *SweepService) processFile(ctx context.Context, path string, kind domain.UploadKind) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from the configured drop directory
	if err != nil {
		return err
	}
	rec, err := s.uploads.Receive(ctx, filepath.Base(path), kind, f)
	_ = f.Close()
	if err != nil {
		return err
	}

	switch kind {
	case domain.UploadVector:
		_, err = s.ingest.IngestVector(ctx, rec.ID, layerNameFromFilename(rec.Filename))
	case domain.UploadRaster:
		_, err = s.ingest.IngestRaster(ctx, rec.ID, "")
	}
	if err != nil {
		return err
	}

	return os.Remove(path)
}

// classifyDropFile maps a file extension to the upload kind it is
// ingested as.
func classifyDropFile(name string) (domain.UploadKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json", ".zip", ".gpkg":
		return domain.UploadVector, true
	case ".tif", ".tiff":
		return domain.UploadRaster, true
	}
	return "", false
}

func (s *SweepService) alreadyAttempted(path string, stamp fileStamp) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	prev, ok := s.seen[path]
	return ok && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime)
}

func (s *SweepService) markAttempted(path string, stamp fileStamp) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	s.seen[path] = stamp
}

// pruneSeen drops attempt records for files no longer present.
func (s *SweepService) pruneSeen(present map[string]struct{}) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	for path := range s.seen {
		if _, ok := present[path]; !ok {
			delete(s.seen, path)
		}
	}
}

// setNextSweep updates the next scheduled sweep time.
func (s *SweepService) setNextSweep(t time.Time) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	s.nextSweep = t
}

// getNextSweep returns the next scheduled sweep time.
func (s *SweepService) getNextSweep() time.Time {
	s.sweepMu.RLock()
	defer s.sweepMu.RUnlock()
	return s.nextSweep
}

// Interval returns the sweep interval.
func (s *SweepService) Interval() time.Duration {
	return s.interval
}
