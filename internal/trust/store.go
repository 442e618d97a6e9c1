// Package trust loads the local trust store: designated directories
// scanned for entry files whose lines name filesystem paths or glob
// patterns. Local content matching an entry runs in the trusted
// sandbox instead of its default local classification.
package trust

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/security"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Store holds the trusted path set. Load rebuilds it atomically, so
// readers never observe a half-built set; all read paths are safe for
// concurrent use.
type Store struct {
	dirs   []string
	logger *logging.Logger

	mu       sync.RWMutex
	prefixes []string // Protected by mu
	patterns []string // Protected by mu
}

// NewStore builds an empty store over the given entry directories.
// Call Load before the first query.
func NewStore(dirs []string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{dirs: dirs, logger: logger}
}

// Load scans every configured directory for entry files and replaces
// the trusted set with their contents. Absent directories are skipped;
// unreadable entry files are logged and skipped.
func (s *Store) Load() error {
	var (
		entryMu  sync.Mutex
		prefixes []string
		patterns []string
	)

	conf := fastwalk.Config{Follow: false}
	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); err != nil {
			s.logger.Debug("trust directory absent", zap.String("dir", dir))
			continue
		}
		err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			entries, rerr := readEntryFile(p)
			if rerr != nil {
				s.logger.Warn("skipping unreadable trust file",
					zap.String("file", p), zap.Error(rerr))
				return nil
			}
			entryMu.Lock()
			for _, e := range entries {
				if isGlob(e) {
					patterns = append(patterns, e)
				} else {
					prefixes = append(prefixes, path.Clean(e))
				}
			}
			entryMu.Unlock()
			return nil
		})
		if err != nil {
			return fmt.Errorf("trust: scanning %s: %w", dir, err)
		}
	}

	s.mu.Lock()
	s.prefixes = prefixes
	s.patterns = patterns
	s.mu.Unlock()

	s.logger.Info("trust store loaded",
		zap.Int("dirs", len(s.dirs)),
		zap.Int("prefixes", len(prefixes)),
		zap.Int("patterns", len(patterns)))
	return nil
}

// Len returns the number of loaded entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prefixes) + len(s.patterns)
}

// IsTrusted reports whether localPath is named by the store, either
// exactly, under a trusted directory, or by a glob pattern.
func (s *Store) IsTrusted(localPath string) bool {
	p := path.Clean(localPath)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pre := range s.prefixes {
		if pre == "/" || p == pre || strings.HasPrefix(p, pre+"/") {
			return true
		}
	}
	for _, pat := range s.patterns {
		if ok, err := doublestar.Match(pat, p); err == nil && ok {
			return true
		}
	}
	return false
}

// Classify resolves the sandbox for content loaded from origin: remote
// origins classify remote, trusted local paths classify trusted, and
// everything else takes the configured fallback.
func (s *Store) Classify(origin urlinfo.Info, fallback security.Sandbox) security.Sandbox {
	if !origin.IsLocal() {
		return security.SandboxRemote
	}
	if s.IsTrusted(origin.Path()) {
		return security.SandboxLocalTrusted
	}
	return fallback
}

// readEntryFile returns the file's entry lines, comment and blank
// lines dropped.
func readEntryFile(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// isGlob reports whether an entry is a pattern rather than a literal
// path.
func isGlob(e string) bool {
	return strings.ContainsAny(e, "*?[{")
}
