package jsonfile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	testutil.AssertNoError(t, err)
	return store
}

func sampleMemories(t *testing.T, store *Store) []*memory.Memory {
	t.Helper()
	created := testutil.MustParseTime(t, "2024-06-01T12:00:00Z")
	eventAt := testutil.MustParseTime(t, "2024-05-30T08:00:00Z")
	exclusive := false

	return []*memory.Memory{
		{
			ID:         store.GenID(),
			Agent:      "alice",
			Text:       "first memory",
			Category:   "fact",
			Importance: 0.7,
			Tags:       []string{"one", "two"},
			Embedding:  []float64{0.1, 0.2, 0.3},
			Links:      []memory.Link{{TargetID: "other", Similarity: 0.8, Type: "similar"}},
			CreatedAt:  created,
			UpdatedAt:  created,
			EventAt:    &eventAt,
			Provenance: memory.Provenance{Source: "user_explicit", Corroboration: 2, Trust: 1.0},
			Confidence: 1.0,
			Status:     memory.StatusActive,
			Claim: &memory.Claim{
				Subject: "user", Predicate: "timezone", Value: "UTC",
				NormalizedValue: "utc", Scope: "global", Exclusive: &exclusive,
			},
		},
		{
			ID:         store.GenID(),
			Agent:      "bob",
			Text:       "second memory",
			Category:   "decision",
			Importance: 0.4,
			CreatedAt:  created,
			UpdatedAt:  created,
			Provenance: memory.Provenance{Source: "inference", Corroboration: 1, Trust: 0.5},
			Status:     memory.StatusSuperseded,
			SupersededBy: "first",
		},
	}
}

// Save then load returns an equal list with order preserved.
func TestRoundTrip(t *testing.T) {
	store := newTestStore(t)
	memories := sampleMemories(t, store)

	testutil.AssertNoError(t, store.Save(memories))
	loaded, err := store.Load()
	testutil.AssertNoError(t, err)

	if !reflect.DeepEqual(memories, loaded) {
		t.Errorf("Round trip mismatch:\nsaved:  %+v\nloaded: %+v", memories[0], loaded[0])
	}
}

func TestMissingFilesAreEmpty(t *testing.T) {
	store := newTestStore(t)

	memories, err := store.Load()
	testutil.AssertNoError(t, err)
	if len(memories) != 0 {
		t.Errorf("Expected empty graph, got %d", len(memories))
	}

	episodes, err := store.LoadEpisodes()
	testutil.AssertNoError(t, err)
	if len(episodes) != 0 {
		t.Errorf("Expected no episodes, got %d", len(episodes))
	}

	pending, err := store.LoadPendingConflicts()
	testutil.AssertNoError(t, err)
	if len(pending) != 0 {
		t.Errorf("Expected no pending conflicts, got %d", len(pending))
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	testutil.AssertNoError(t, store.Save(sampleMemories(t, store)))

	entries, err := os.ReadDir(store.Dir())
	testutil.AssertNoError(t, err)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "memories.json")); err != nil {
		t.Errorf("Expected memories.json: %v", err)
	}
}

func TestSideCollections(t *testing.T) {
	store := newTestStore(t)
	created := testutil.MustParseTime(t, "2024-06-01T12:00:00Z")

	episodes := []*memory.Episode{{
		ID: store.GenEpisodeID(), Name: "sprint", MemoryIDs: []string{"a", "b"},
		TimeRange: memory.TimeRange{Start: created, End: created},
		CreatedAt: created, UpdatedAt: created,
	}}
	testutil.AssertNoError(t, store.SaveEpisodes(episodes))
	loadedEps, err := store.LoadEpisodes()
	testutil.AssertNoError(t, err)
	if !reflect.DeepEqual(episodes, loadedEps) {
		t.Error("Episode round trip mismatch")
	}

	clusters := []*memory.LabeledCluster{{
		ID: store.GenClusterID(), Label: "infra", MemoryIDs: []string{"a"},
		CreatedAt: created, UpdatedAt: created,
	}}
	testutil.AssertNoError(t, store.SaveClusters(clusters))
	loadedClusters, err := store.LoadClusters()
	testutil.AssertNoError(t, err)
	if !reflect.DeepEqual(clusters, loadedClusters) {
		t.Error("Cluster round trip mismatch")
	}

	pending := []*memory.PendingConflict{{
		ID: store.GenID(), NewID: "n", ExistingID: "e",
		NewTrust: 0.5, ExistingTrust: 1.0, CreatedAt: created,
	}}
	testutil.AssertNoError(t, store.SavePendingConflicts(pending))
	loadedPending, err := store.LoadPendingConflicts()
	testutil.AssertNoError(t, err)
	if !reflect.DeepEqual(pending, loadedPending) {
		t.Error("Pending conflict round trip mismatch")
	}

	archive := sampleMemories(t, store)
	testutil.AssertNoError(t, store.SaveArchive(archive))
	loadedArchive, err := store.LoadArchive()
	testutil.AssertNoError(t, err)
	if len(loadedArchive) != len(archive) {
		t.Errorf("Archive round trip: expected %d, got %d", len(archive), len(loadedArchive))
	}
}

func TestGeneratedIDsAreUnique(t *testing.T) {
	store := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := store.GenID()
		if seen[id] {
			t.Fatalf("Duplicate id: %s", id)
		}
		seen[id] = true
	}
}
