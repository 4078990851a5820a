// Package cleanup removes request directories left behind in the temp dir,
// for example after a crash mid-request.
package cleanup

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
)

// Scheduler periodically sweeps stale entries from the temp directory.
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger
	now      func() time.Time
	inUse    func(name string) bool

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInUse keeps entries for which inUse returns true, whatever their age.
// The name passed is the entry's base name, which is the request id.
func WithInUse(inUse func(name string) bool) Option {
	return func(s *Scheduler) { s.inUse = inUse }
}

// NewScheduler creates a scheduler that runs every interval and removes
// entries not modified for maxAge.
func NewScheduler(tempDir string, interval, maxAge time.Duration, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		log:      log,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one sweep immediately, then one per interval until Stop.
func (s *Scheduler) Start() {
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.log.Info("cleanup scheduler started",
		slog.String("dir", s.tempDir),
		slog.Duration("interval", s.interval),
		slog.Duration("max_age", s.maxAge))
}

// Stop halts the scheduler and waits for an in-progress sweep.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.log.Info("cleanup scheduler stopped")
	})
}

// Sweep removes top-level entries older than maxAge and returns how many
// were deleted.
func (s *Scheduler) Sweep() int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("cleanup: read temp dir", slog.String("dir", s.tempDir), logging.Err(err))
		}
		return 0
	}

	now := s.now()
	deleted := 0
	var freed int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			continue
		}
		if s.inUse != nil && s.inUse(entry.Name()) {
			s.log.Debug("skipping temp entry of a running request",
				slog.String("name", entry.Name()),
				slog.Duration("age", age.Round(time.Minute)))
			continue
		}

		path := filepath.Join(s.tempDir, entry.Name())
		size := diskUsage(path)
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("cleanup: remove stale entry", slog.String("path", path), logging.Err(err))
			continue
		}
		deleted++
		freed += size
		s.log.Debug("removed stale temp entry",
			slog.String("name", entry.Name()),
			slog.Duration("age", age.Round(time.Minute)))
	}

	if deleted > 0 {
		s.log.Info("cleanup complete",
			slog.Int("deleted", deleted),
			slog.Float64("freed_mb", float64(freed)/(1024*1024)))
	}
	return deleted
}

func diskUsage(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// EnsureTempDirExists creates the temp directory if it doesn't exist.
func EnsureTempDirExists(tempDir string) error {
	return os.MkdirAll(tempDir, 0o755)
}
