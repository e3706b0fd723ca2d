package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), zerolog.Nop())
}

func makeArtifacts(t *testing.T, s *Store, n int) []string {
	t.Helper()
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s%03d", ArtifactPrefix, i)
		if err := os.MkdirAll(s.ArtifactPath(name), 0o755); err != nil {
			t.Fatalf("failed to create artifact: %v", err)
		}
		names = append(names, name)
	}
	return names
}

func TestStore_List(t *testing.T) {
	t.Run("missing directory is an empty store", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "does-not-exist"), zerolog.Nop())
		names, err := s.List()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(names) != 0 {
			t.Errorf("expected no artifacts, got %v", names)
		}
	})

	t.Run("ignores files and unprefixed directories", func(t *testing.T) {
		s := newTestStore(t)
		makeArtifacts(t, s, 2)
		if err := os.MkdirAll(s.ArtifactPath("unrelated"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(s.ArtifactPath(ArtifactPrefix+"file"), nil, 0o644); err != nil {
			t.Fatal(err)
		}

		names, err := s.List()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{ArtifactPrefix + "000", ArtifactPrefix + "001"}
		if !reflect.DeepEqual(names, want) {
			t.Errorf("expected %v, got %v", want, names)
		}
	})
}

func TestStore_PruneIfExcess(t *testing.T) {
	t.Run("below threshold deletes nothing", func(t *testing.T) {
		s := newTestStore(t)
		makeArtifacts(t, s, DefaultPruneThreshold)

		if deleted := s.PruneIfExcess(0, 0); deleted != 0 {
			t.Errorf("expected no deletions, got %d", deleted)
		}
		names, _ := s.List()
		if len(names) != DefaultPruneThreshold {
			t.Errorf("expected %d survivors, got %d", DefaultPruneThreshold, len(names))
		}
	})

	t.Run("excess artifacts keep only the most recent", func(t *testing.T) {
		s := newTestStore(t)
		all := makeArtifacts(t, s, 8)

		if deleted := s.PruneIfExcess(5, 2); deleted != 6 {
			t.Errorf("expected 6 deletions, got %d", deleted)
		}
		names, _ := s.List()
		if !reflect.DeepEqual(names, all[6:]) {
			t.Errorf("expected survivors %v, got %v", all[6:], names)
		}
	})

	t.Run("one deletion failure does not abort the rest", func(t *testing.T) {
		s := newTestStore(t)
		all := makeArtifacts(t, s, 8)

		stuck := all[2]
		orig := removeAll
		removeAll = func(path string) error {
			if filepath.Base(path) == stuck {
				return errors.New("device busy")
			}
			return orig(path)
		}
		defer func() { removeAll = orig }()

		if deleted := s.PruneIfExcess(5, 2); deleted != 5 {
			t.Errorf("expected 5 deletions, got %d", deleted)
		}
		names, _ := s.List()
		want := []string{stuck, all[6], all[7]}
		if !reflect.DeepEqual(names, want) {
			t.Errorf("expected survivors %v, got %v", want, names)
		}
	})
}

func TestStore_PruneRetentionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("pruning keeps the most recent artifacts", prop.ForAll(
		func(count int) bool {
			s := New(t.TempDir(), zerolog.Nop())
			all := makeArtifacts(t, s, count)

			deleted := s.PruneIfExcess(5, 2)
			names, err := s.List()
			if err != nil {
				return false
			}

			if count <= 5 {
				return deleted == 0 && len(names) == count
			}
			return deleted == count-2 && reflect.DeepEqual(names, all[count-2:])
		},
		gen.IntRange(0, 12),
	))

	properties.TestingRun(t)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	t.Run("absent artifact is not an error", func(t *testing.T) {
		if err := s.Delete("session-missing"); err != nil {
			t.Errorf("expected idempotent delete, got %v", err)
		}
	})

	t.Run("empty name is a no-op", func(t *testing.T) {
		if err := s.Delete(""); err != nil {
			t.Errorf("expected no-op, got %v", err)
		}
	})
}

func TestStore_HasCorruptionMarkers(t *testing.T) {
	const name = ArtifactPrefix + "test"

	setup := func(t *testing.T, lock bool, prefs bool) *Store {
		t.Helper()
		s := newTestStore(t)
		dir := s.ArtifactPath(name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if lock {
			if err := os.WriteFile(filepath.Join(dir, "SingletonLock"), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}
		if prefs {
			if err := os.MkdirAll(filepath.Join(dir, "Default"), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "Default", "Preferences"), []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		return s
	}

	t.Run("missing artifact is clean", func(t *testing.T) {
		s := newTestStore(t)
		if s.HasCorruptionMarkers(name) {
			t.Error("missing artifact must not be flagged")
		}
	})

	t.Run("lock without profile is corrupt", func(t *testing.T) {
		s := setup(t, true, false)
		if !s.HasCorruptionMarkers(name) {
			t.Error("orphaned lock must be flagged")
		}
	})

	t.Run("lock with completed profile is clean", func(t *testing.T) {
		s := setup(t, true, true)
		if s.HasCorruptionMarkers(name) {
			t.Error("a live profile must not be flagged")
		}
	})

	t.Run("no lock is clean", func(t *testing.T) {
		s := setup(t, false, false)
		if s.HasCorruptionMarkers(name) {
			t.Error("lockless artifact must not be flagged")
		}
	})
}
