// Package store owns the temporary directory that holds downloaded artifacts
// until they are handed to a caller. Files leave the directory either through a
// one-shot delayed deletion armed after delivery, or through an age-based sweep.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	DirName = "youtube_downloads"

	DefaultMaxAge        = time.Hour
	DefaultDeleteDelay   = 30 * time.Second
	DefaultSweepInterval = 10 * time.Minute
)

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrEmpty        = errors.New("artifact is empty")
	ErrOutsideStore = errors.New("path is outside the store directory")
)

// Config is the injected description of the store directory and its timings.
type Config struct {
	Dir           string
	MaxAge        time.Duration
	DeleteDelay   time.Duration
	SweepInterval time.Duration // 0 disables the background sweep
}

// DefaultConfig places the store under the host temp directory.
func DefaultConfig() Config {
	return Config{
		Dir:           filepath.Join(os.TempDir(), DirName),
		MaxAge:        DefaultMaxAge,
		DeleteDelay:   DefaultDeleteDelay,
		SweepInterval: DefaultSweepInterval,
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("store dir is required")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("store max age must be positive, got %s", c.MaxAge)
	}
	if c.DeleteDelay < 0 {
		return fmt.Errorf("store delete delay must not be negative, got %s", c.DeleteDelay)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("store sweep interval must not be negative, got %s", c.SweepInterval)
	}
	return nil
}

// Artifact is a downloaded file that is ready to be streamed.
type Artifact struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// FileStatus is one entry of a store snapshot.
type FileStatus struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	AgeSeconds int64  `json:"age_seconds"`
}

// Status summarizes what the store currently holds.
type Status struct {
	FilesCount     int          `json:"files_count"`
	TotalSizeBytes int64        `json:"total_size_bytes"`
	Files          []FileStatus `json:"files"`
}

// Observer is notified after every deletion attempt.
type Observer func(src Source, res Result)

// Store manages the artifact directory. All operations are safe for concurrent
// use; file operations are individually idempotent, so concurrent sweeps and
// deliveries may interleave freely.
type Store struct {
	fs  afero.Fs
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	pending  map[uint64]*Pending
	nextID   uint64
	observer Observer

	stopSweep chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates the store directory if needed.
func New(fsys afero.Fs, cfg Config, log *slog.Logger) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve store dir %s: %w", cfg.Dir, err)
	}
	cfg.Dir = dir

	if err := fsys.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create store dir %s: %w", cfg.Dir, err)
	}

	return &Store{
		fs:        fsys,
		cfg:       cfg,
		log:       log.With(slog.String("component", "store")),
		now:       time.Now,
		pending:   make(map[uint64]*Pending),
		stopSweep: make(chan struct{}),
	}, nil
}

// Dir returns the absolute store directory.
func (s *Store) Dir() string { return s.cfg.Dir }

// SetObserver registers a callback for deletion results.
func (s *Store) SetObserver(fn Observer) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Start launches the background sweep loop when SweepInterval is set.
func (s *Store) Start(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.sweepLoop(ctx)
	})
}

// Stop halts the sweep loop and runs every pending deletion immediately.
// Call it only after the HTTP server has stopped streaming.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
	s.wg.Wait()

	s.mu.Lock()
	flush := make([]*Pending, 0, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
		flush = append(flush, p)
	}
	s.mu.Unlock()

	for _, p := range flush {
		s.complete(p)
	}
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("Background sweep failed", slog.Any("error", err))
			}
		case <-s.stopSweep:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep removes every regular file older than MaxAge. Per-file failures are
// logged and reported but never abort the pass; the returned error is set only
// when the directory itself cannot be read.
func (s *Store) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	entries, err := afero.ReadDir(s.fs, s.cfg.Dir)
	if err != nil {
		s.log.Error("Cannot read store dir", slog.String("dir", s.cfg.Dir), slog.Any("error", err))

		return report, fmt.Errorf("cannot read store dir %s: %w", s.cfg.Dir, err)
	}

	now := s.now()
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.Mode().IsRegular() {
			continue
		}
		report.Scanned++

		if now.Sub(entry.ModTime()) <= s.cfg.MaxAge {
			continue
		}

		res := s.remove(filepath.Join(s.cfg.Dir, entry.Name()))
		s.report(SourceSweep, res)
		report.Results = append(report.Results, res)
	}

	if d := report.Deleted(); d > 0 || report.Failed() > 0 {
		s.log.Info("Sweep done", slog.Int("scanned", report.Scanned), slog.Int("deleted", d), slog.Int("failed", report.Failed()))
	}

	return report, nil
}

// Delete removes a single artifact now.
func (s *Store) Delete(path string) Result {
	if !s.owns(path) {
		return Result{Path: path, Outcome: OutcomeFailed, Err: ErrOutsideStore}
	}
	res := s.remove(path)
	s.report(SourceManual, res)
	return res
}

// Locate checks that path is a non-empty regular file inside the store.
func (s *Store) Locate(path string) (Artifact, error) {
	if !s.owns(path) {
		return Artifact{}, fmt.Errorf("%s: %w", path, ErrOutsideStore)
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return Artifact{}, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Artifact{}, fmt.Errorf("%s is not a regular file: %w", path, ErrNotFound)
	}
	if info.Size() == 0 {
		return Artifact{}, fmt.Errorf("%s: %w", path, ErrEmpty)
	}

	return Artifact{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Open locates and opens an artifact for streaming. An open handle keeps
// reading valid on POSIX systems even if the file is unlinked meanwhile.
func (s *Store) Open(path string) (afero.File, Artifact, error) {
	art, err := s.Locate(path)
	if err != nil {
		return nil, Artifact{}, err
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("cannot open %s: %w", path, err)
	}

	return f, art, nil
}

// Snapshot lists the regular files currently held.
func (s *Store) Snapshot() (Status, error) {
	status := Status{Files: []FileStatus{}}

	entries, err := afero.ReadDir(s.fs, s.cfg.Dir)
	if err != nil {
		return status, fmt.Errorf("cannot read store dir %s: %w", s.cfg.Dir, err)
	}

	now := s.now()
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		status.Files = append(status.Files, FileStatus{
			Name:       entry.Name(),
			Size:       entry.Size(),
			AgeSeconds: int64(now.Sub(entry.ModTime()).Seconds()),
		})
		status.TotalSizeBytes += entry.Size()
	}
	status.FilesCount = len(status.Files)

	return status, nil
}

func (s *Store) remove(path string) Result {
	err := s.fs.Remove(path)
	switch {
	case err == nil:
		s.log.Debug("Artifact removed", slog.String("path", path))
		return Result{Path: path, Outcome: OutcomeDeleted}
	case errors.Is(err, fs.ErrNotExist):
		return Result{Path: path, Outcome: OutcomeAbsent}
	default:
		s.log.Error("Cannot remove artifact", slog.String("path", path), slog.Any("error", err))
		return Result{Path: path, Outcome: OutcomeFailed, Err: err}
	}
}

func (s *Store) report(src Source, res Result) {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()

	if fn != nil {
		fn(src, res)
	}
}

func (s *Store) owns(path string) bool {
	rel, err := filepath.Rel(s.cfg.Dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
