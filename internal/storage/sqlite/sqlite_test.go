package sqlite

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleMemory(t *testing.T, store *Store) *memory.Memory {
	t.Helper()
	created := testutil.MustParseTime(t, "2024-06-01T12:00:00Z")
	eventAt := testutil.MustParseTime(t, "2024-05-30T08:00:00Z")

	return &memory.Memory{
		ID:         store.GenID(),
		Agent:      "alice",
		Text:       "relational memory",
		Category:   "fact",
		Importance: 0.7,
		Tags:       []string{"sql", "storage"},
		Embedding:  []float64{0.5, 0.25},
		CreatedAt:  created,
		UpdatedAt:  created,
		EventAt:    &eventAt,
		AccessCount: 3,
		Stability:  1.5,
		Provenance: memory.Provenance{Source: "tool_output", SourceID: "run-7", Corroboration: 2, Trust: 0.9},
		Confidence: 0.9,
		Status:     memory.StatusActive,
		Supersedes: []string{"older"},
		Claim: &memory.Claim{
			Subject: "svc", Predicate: "db", Value: "postgres", Scope: "global",
		},
		Evolution: []memory.Evolution{{From: "a", To: "relational memory", Reason: "edit", At: created}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	first := sampleMemory(t, store)
	second := sampleMemory(t, store)
	second.Agent = "bob"
	second.Claim = nil
	second.EventAt = nil
	second.Tags = nil
	second.Links = []memory.Link{{TargetID: first.ID, Similarity: 0.8, Type: "similar"}}
	first.Links = []memory.Link{{TargetID: second.ID, Similarity: 0.8, Type: "similar"}}

	memories := []*memory.Memory{first, second}
	testutil.AssertNoError(t, store.Save(memories))

	loaded, err := store.Load()
	testutil.AssertNoError(t, err)
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 memories, got %d", len(loaded))
	}
	// Order preserved.
	if loaded[0].ID != first.ID || loaded[1].ID != second.ID {
		t.Errorf("Order not preserved: %s, %s", loaded[0].ID, loaded[1].ID)
	}
	if !reflect.DeepEqual(first, loaded[0]) {
		t.Errorf("Round trip mismatch:\nsaved:  %+v\nloaded: %+v", first, loaded[0])
	}
	if !reflect.DeepEqual(second.Links, loaded[1].Links) {
		t.Errorf("Links mismatch: %+v vs %+v", second.Links, loaded[1].Links)
	}
}

func TestIncrementalUpsertAndRemove(t *testing.T) {
	store := newTestStore(t)

	m := sampleMemory(t, store)
	testutil.AssertNoError(t, store.Upsert(m))

	loaded, err := store.Load()
	testutil.AssertNoError(t, err)
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 memory, got %d", len(loaded))
	}

	// Update in place keeps one row.
	m.Text = "updated text"
	m.Links = []memory.Link{{TargetID: "x", Similarity: 0.5, Type: "related"}}
	testutil.AssertNoError(t, store.Upsert(m))

	loaded, err = store.Load()
	testutil.AssertNoError(t, err)
	if len(loaded) != 1 {
		t.Fatalf("Upsert duplicated the row: %d", len(loaded))
	}
	testutil.AssertEqual(t, loaded[0].Text, "updated text")
	if len(loaded[0].Links) != 1 || loaded[0].Links[0].TargetID != "x" {
		t.Errorf("Links not replaced: %+v", loaded[0].Links)
	}

	testutil.AssertNoError(t, store.Remove(m.ID))
	loaded, err = store.Load()
	testutil.AssertNoError(t, err)
	if len(loaded) != 0 {
		t.Errorf("Expected empty store after remove, got %d", len(loaded))
	}
}

func TestUpsertPreservesInsertionOrder(t *testing.T) {
	store := newTestStore(t)

	a := sampleMemory(t, store)
	b := sampleMemory(t, store)
	a.Claim = nil
	b.Claim = nil
	testutil.AssertNoError(t, store.Upsert(a))
	testutil.AssertNoError(t, store.Upsert(b))

	// Updating the first row must not move it to the end.
	a.Text = "still first"
	testutil.AssertNoError(t, store.Upsert(a))

	loaded, err := store.Load()
	testutil.AssertNoError(t, err)
	if loaded[0].ID != a.ID {
		t.Errorf("Updated row moved: got %s first", loaded[0].ID)
	}
}

func TestLinkOperations(t *testing.T) {
	store := newTestStore(t)

	a := sampleMemory(t, store)
	b := sampleMemory(t, store)
	a.Claim, b.Claim = nil, nil
	testutil.AssertNoError(t, store.Upsert(a))
	testutil.AssertNoError(t, store.Upsert(b))

	links := []memory.Link{{TargetID: b.ID, Similarity: 0.9, Type: "similar"}}
	testutil.AssertNoError(t, store.UpsertLinks(a.ID, links))

	loaded, err := store.Load()
	testutil.AssertNoError(t, err)
	if len(loaded[0].Links) != 1 {
		t.Fatalf("Expected 1 link, got %d", len(loaded[0].Links))
	}

	testutil.AssertNoError(t, store.RemoveLinks(a.ID))
	loaded, err = store.Load()
	testutil.AssertNoError(t, err)
	if len(loaded[0].Links) != 0 {
		t.Errorf("Expected links removed, got %+v", loaded[0].Links)
	}
}

func TestSideCollectionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	created := testutil.MustParseTime(t, "2024-06-01T12:00:00Z")

	episodes := []*memory.Episode{{
		ID: store.GenEpisodeID(), Name: "sprint",
		MemoryIDs: []string{"a"}, CreatedAt: created, UpdatedAt: created,
		TimeRange: memory.TimeRange{Start: created, End: created},
	}}
	testutil.AssertNoError(t, store.SaveEpisodes(episodes))
	loaded, err := store.LoadEpisodes()
	testutil.AssertNoError(t, err)
	if !reflect.DeepEqual(episodes, loaded) {
		t.Error("Episode round trip mismatch")
	}

	archive := []*memory.Memory{sampleMemory(t, store)}
	testutil.AssertNoError(t, store.SaveArchive(archive))
	loadedArchive, err := store.LoadArchive()
	testutil.AssertNoError(t, err)
	if len(loadedArchive) != 1 || loadedArchive[0].ID != archive[0].ID {
		t.Error("Archive round trip mismatch")
	}

	pending := []*memory.PendingConflict{{
		ID: store.GenID(), NewID: "n", ExistingID: "e", CreatedAt: created,
	}}
	testutil.AssertNoError(t, store.SavePendingConflicts(pending))
	loadedPending, err := store.LoadPendingConflicts()
	testutil.AssertNoError(t, err)
	if !reflect.DeepEqual(pending, loadedPending) {
		t.Error("Pending round trip mismatch")
	}
}
