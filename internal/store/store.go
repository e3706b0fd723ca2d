// Package store manages the on-disk session artifacts written by the
// browser-automation layer: enumeration, bounded retention and corruption
// detection. Every failure here is log-and-continue, never fatal.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// ArtifactPrefix is the naming convention for per-session auth folders.
	// Names are creation-ordered, so lexicographic order is chronological.
	ArtifactPrefix = "session-"

	// DefaultPruneThreshold and DefaultPruneKeep implement the bounded
	// retention invariant: once more than threshold artifacts exist, all
	// but the keep most recent are deleted.
	DefaultPruneThreshold = 5
	DefaultPruneKeep      = 2
)

// removeAll is swapped in tests to simulate per-artifact deletion failures.
var removeAll = os.RemoveAll

// Store enumerates and prunes stored session artifacts under the auth
// directory. The directory contents are otherwise treated as opaque.
type Store struct {
	authDir string
	log     zerolog.Logger
}

// New creates a session artifact store rooted at authDir.
func New(authDir string, log zerolog.Logger) *Store {
	return &Store{
		authDir: authDir,
		log:     log.With().Str("component", "store").Logger(),
	}
}

// AuthDir returns the root directory of the store.
func (s *Store) AuthDir() string {
	return s.authDir
}

// ArtifactPath returns the absolute path of a named artifact.
func (s *Store) ArtifactPath(name string) string {
	return filepath.Join(s.authDir, name)
}

// List returns the stored artifact names, lexicographically sorted. A
// missing auth directory is an empty store, not an error.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.authDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), ArtifactPrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// PruneIfExcess deletes all but the keep most recent artifacts once more
// than threshold exist, oldest first. Deletion is best-effort per artifact:
// one failure is reported as a warning and does not abort the rest. Returns
// the number of artifacts actually deleted.
func (s *Store) PruneIfExcess(threshold, keep int) int {
	if threshold <= 0 {
		threshold = DefaultPruneThreshold
	}
	if keep <= 0 {
		keep = DefaultPruneKeep
	}

	names, err := s.List()
	if err != nil {
		s.log.Warn().Err(err).Msg("artifact listing failed, skipping prune")
		return 0
	}
	if len(names) <= threshold {
		return 0
	}

	s.log.Warn().Int("count", len(names)).Msg("excess stored sessions detected, pruning")

	deleted := 0
	for _, name := range names[:len(names)-keep] {
		if err := s.Delete(name); err != nil {
			s.log.Warn().Err(err).Str("artifact", name).Msg("failed to delete stale artifact")
			continue
		}
		s.log.Info().Str("artifact", name).Msg("deleted stale session artifact")
		deleted++
	}
	return deleted
}

// Delete removes a named artifact. Idempotent: absence is not an error.
func (s *Store) Delete(name string) error {
	if name == "" {
		return nil
	}
	if err := removeAll(s.ArtifactPath(name)); err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", name, err)
	}
	return nil
}

// HasCorruptionMarkers applies a heuristic check to a single artifact: a
// browser singleton lock left behind without a completed profile handshake
// means the previous instance died mid-initialization. Used to pre-emptively
// delete the artifact before a fresh initialize.
func (s *Store) HasCorruptionMarkers(name string) bool {
	dir := s.ArtifactPath(name)
	if _, err := os.Stat(dir); err != nil {
		return false
	}

	locked := false
	for _, lock := range []string{"SingletonLock", "SingletonCookie", "lockfile"} {
		if _, err := os.Lstat(filepath.Join(dir, lock)); err == nil {
			locked = true
			break
		}
	}
	if !locked {
		return false
	}

	_, err := os.Stat(filepath.Join(dir, "Default", "Preferences"))
	return err != nil
}
