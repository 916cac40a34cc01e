package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/chatgate/internal/config"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	. "github.com/roelfdiedericks/chatgate/internal/metrics"
	"github.com/roelfdiedericks/chatgate/internal/paths"
)

const (
	// DefaultArtifactDir is used when artifacts.dir is empty
	DefaultArtifactDir = "./downloads"

	// MaxArtifactBytes caps a single generated file
	MaxArtifactBytes = 20 * 1024 * 1024

	artifactPrefix = "image-"
)

// ArtifactStore writes generated images to disk and optionally expires
// them on a cron schedule.
type ArtifactStore struct {
	dir      string
	ttl      time.Duration
	schedule string

	mu      sync.Mutex
	lastMs  int64
	cron    *cronlib.Cron
	pending sync.WaitGroup

	now func() time.Time
}

// NewArtifactStore creates the artifact directory if needed
func NewArtifactStore(cfg config.ArtifactsConfig) (*ArtifactStore, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultArtifactDir
	}
	dir, err := paths.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	dir = filepath.Clean(dir)
	if err := paths.EnsureDir(dir); err != nil {
		return nil, err
	}

	s := &ArtifactStore{
		dir:      dir,
		ttl:      time.Duration(cfg.TTLSeconds) * time.Second,
		schedule: cfg.CleanupSchedule,
		now:      time.Now,
	}
	L_info("media: artifact store initialized", "dir", dir, "ttl", s.ttl.String())
	return s, nil
}

// Dir returns the artifact directory
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Save writes an image as image-<unixmillis>.png and returns its path.
// Non-PNG images are converted first.
func (s *ArtifactStore) Save(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty artifact")
	}
	if len(data) > MaxArtifactBytes {
		return "", fmt.Errorf("artifact size %d exceeds limit %d", len(data), MaxArtifactBytes)
	}
	png, err := ToPNG(data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s%d.png", artifactPrefix, s.nextMillis()))
	if err := os.WriteFile(path, png, 0600); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	L_debug("media: saved artifact", "path", path, "size", len(png))
	return path, nil
}

// SaveAsync saves in the background. Failures are logged and counted.
func (s *ArtifactStore) SaveAsync(data []byte) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if _, err := s.Save(data); err != nil {
			L_warn("media: artifact save failed", "error", err)
			MetricFailWithReason("media", "artifact", "save_failed")
			return
		}
		MetricSuccess("media", "artifact")
	}()
}

// Wait blocks until background saves have finished
func (s *ArtifactStore) Wait() {
	s.pending.Wait()
}

// nextMillis returns a unix-millisecond stamp unique within this store
func (s *ArtifactStore) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms
	return ms
}

// Start schedules the janitor. A zero TTL keeps artifacts forever.
func (s *ArtifactStore) Start() error {
	if s.ttl <= 0 {
		L_debug("media: artifact janitor disabled (no ttl)")
		return nil
	}
	schedule := s.schedule
	if schedule == "" {
		schedule = "@every 1h"
	}

	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	c := cronlib.New(cronlib.WithParser(parser))
	if _, err := c.AddFunc(schedule, func() {
		if n, err := s.CleanOld(); err != nil {
			L_warn("media: artifact cleanup error", "error", err)
		} else if n > 0 {
			MetricAdd("media", "artifacts_expired", int64(n))
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	L_debug("media: artifact janitor started", "schedule", schedule)
	return nil
}

// Close stops the janitor and waits for pending saves
func (s *ArtifactStore) Close() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.pending.Wait()
}

// CleanOld removes artifacts older than the TTL and returns the count
func (s *ArtifactStore) CleanOld() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), artifactPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil {
				L_trace("media: failed to remove expired artifact", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		L_debug("media: artifact cleanup completed", "removed", removed)
	}
	return removed, nil
}
