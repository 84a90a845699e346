// Package tempfile hands out uniquely named files in a temp directory and
// guarantees each one is deleted exactly once.
package tempfile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prefix starts the name of every file the manager allocates.
const Prefix = "docconv_"

// TempFile is a path owned by a single request scope.
type TempFile struct {
	Path        string
	CreatedAt   time.Time
	DeleteAfter time.Duration
}

// Manager allocates temp paths and runs deferred deletions.
type Manager struct {
	dir   string
	grace time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewManager creates a Manager rooted at dir. Files released through a Scope
// are deleted grace after the release.
func NewManager(dir string, grace time.Duration, logger *slog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp dir %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat temp dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("temp dir %s is not a directory", abs)
	}

	return &Manager{
		dir:     abs,
		grace:   grace,
		log:     logger.With("component", "tempfile"),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Dir returns the absolute directory files are allocated in.
func (m *Manager) Dir() string { return m.dir }

// Allocate returns a new unique path ending in suffix. The file is not created.
func (m *Manager) Allocate(suffix string) string {
	return filepath.Join(m.dir, Prefix+uuid.NewString()+cleanSuffix(suffix))
}

// ScheduleCleanup deletes paths once after has elapsed, or right away when
// after is not positive. Failures are logged, never returned.
func (m *Manager) ScheduleCleanup(paths []string, after time.Duration) {
	for _, path := range paths {
		m.schedule(path, after)
	}
}

func (m *Manager) schedule(path string, after time.Duration) {
	m.mu.Lock()
	if timer, ok := m.pending[path]; ok {
		if after > 0 && !m.closed {
			m.mu.Unlock()
			return
		}
		// An immediate request overrides the timer.
		if !timer.Stop() {
			m.mu.Unlock()
			return
		}
		delete(m.pending, path)
	}
	if after <= 0 || m.closed {
		m.mu.Unlock()
		m.remove(path)
		return
	}
	m.pending[path] = time.AfterFunc(after, func() { m.fire(path) })
	m.mu.Unlock()
}

func (m *Manager) fire(path string) {
	m.mu.Lock()
	if _, ok := m.pending[path]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, path)
	m.mu.Unlock()

	m.remove(path)
}

func (m *Manager) remove(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		m.log.Debug("temp file removed", "path", path)
	case errors.Is(err, fs.ErrNotExist):
		m.log.Debug("temp file already gone", "path", path)
	default:
		m.log.Warn("temp file cleanup failed", "path", path, "error", err)
	}
}

// Pending returns the number of deletions waiting on a timer.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close deletes every pending file now. Later cleanups run immediately.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	paths := make([]string, 0, len(m.pending))
	for path, timer := range m.pending {
		if timer.Stop() {
			paths = append(paths, path)
		}
		delete(m.pending, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		m.remove(path)
	}
}

// NewScope opens a scope whose files are all released together.
func (m *Manager) NewScope() *Scope {
	return &Scope{m: m}
}

// Scope tracks the temp files of one request. Release must be called on
// every exit path, typically with defer.
type Scope struct {
	m *Manager

	mu       sync.Mutex
	files    []*TempFile
	released bool
}

// Allocate reserves a path in the scope. Allocating after Release schedules
// the new path straight away.
func (s *Scope) Allocate(suffix string) *TempFile {
	tf := &TempFile{
		Path:        s.m.Allocate(suffix),
		CreatedAt:   time.Now(),
		DeleteAfter: s.m.grace,
	}

	s.mu.Lock()
	s.files = append(s.files, tf)
	released := s.released
	s.mu.Unlock()

	if released {
		s.m.ScheduleCleanup([]string{tf.Path}, tf.DeleteAfter)
	}
	return tf
}

// Paths lists the scope's paths in allocation order.
func (s *Scope) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, len(s.files))
	for i, f := range s.files {
		paths[i] = f.Path
	}
	return paths
}

// Release schedules deletion of every file in the scope. Only the first call
// has an effect.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.m.ScheduleCleanup(s.Paths(), s.m.grace)
}

func cleanSuffix(suffix string) string {
	suffix = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return -1
		}
		return r
	}, suffix)
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return suffix
}
