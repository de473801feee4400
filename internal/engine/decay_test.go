package engine

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// Scenario: with a high archive threshold, a fresh mid-importance memory
// lands in the archive bucket; a dry run leaves everything untouched.
func TestDecayArchivesWeakMemories(t *testing.T) {
	store := &memStore{}
	eng, err := New(store, Options{ArchiveThreshold: 0.9, DeleteThreshold: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := eng.Store(ctx, "a", "Something to decay", nil); err != nil {
		t.Fatal(err)
	}

	t.Run("DryRunReportsWithoutMutating", func(t *testing.T) {
		before := snapshotMemories(eng.memories)

		report, err := eng.Decay(true)
		if err != nil {
			t.Fatalf("Decay failed: %v", err)
		}
		if report.Total < 1 || report.Archived < 1 {
			t.Errorf("Expected total>=1 archived>=1, got %+v", report)
		}
		if eng.Count() != 1 {
			t.Error("Dry run removed memories")
		}
		if len(store.archive) != 0 {
			t.Error("Dry run touched the archive")
		}
		if !reflect.DeepEqual(before, snapshotMemories(eng.memories)) {
			t.Error("Dry run mutated memory state")
		}
	})

	t.Run("RealRunArchives", func(t *testing.T) {
		report, err := eng.Decay(false)
		if err != nil {
			t.Fatalf("Decay failed: %v", err)
		}
		if report.Archived < 1 {
			t.Errorf("Expected archived>=1, got %+v", report)
		}
		if eng.Count() != 0 {
			t.Errorf("Expected empty graph, got %d", eng.Count())
		}
		if len(store.archive) != 1 {
			t.Fatalf("Expected 1 archived copy, got %d", len(store.archive))
		}
		archived := store.archive[0]
		if archived.ArchivedAt == nil {
			t.Error("Archive copy missing archived_at")
		}
		if archived.Embedding != nil {
			t.Error("Archive copy should have its embedding stripped")
		}
	})
}

func TestDecayKeepsHealthyMemories(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, "a", "important decision", &StoreOptions{
		Category: "decision", Importance: floatPtr(1.0),
	}); err != nil {
		t.Fatal(err)
	}

	report, err := eng.Decay(false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Healthy != 1 || report.Archived != 0 || report.Deleted != 0 {
		t.Errorf("Expected healthy classification, got %+v", report)
	}
	if eng.Count() != 1 {
		t.Error("Healthy memory was removed")
	}
}

func TestReinforce(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Store(ctx, "a", "worth remembering", &StoreOptions{Importance: floatPtr(0.5)})
	if err != nil {
		t.Fatal(err)
	}

	base := eng.now()
	eng.now = func() time.Time { return base.Add(48 * time.Hour) }

	if err := eng.Reinforce(result.ID, 0.2); err != nil {
		t.Fatalf("Reinforce failed: %v", err)
	}

	m, _ := eng.Get(result.ID)
	if m.Importance != 0.7 {
		t.Errorf("Expected importance 0.7, got %f", m.Importance)
	}
	if m.AccessCount != 1 || m.Reinforcements != 1 {
		t.Errorf("Counters not incremented: access=%d reinforcements=%d", m.AccessCount, m.Reinforcements)
	}
	if m.Stability <= 1.0 {
		t.Errorf("Expected stability growth above the initial 1.0, got %f", m.Stability)
	}
	if m.LastReviewInterval < 1.9 || m.LastReviewInterval > 2.1 {
		t.Errorf("Expected ~2 day review interval, got %f", m.LastReviewInterval)
	}

	// A second immediate review grows stability less than a spaced one.
	firstStability := m.Stability
	if err := eng.Reinforce(result.ID, 0.1); err != nil {
		t.Fatal(err)
	}
	m, _ = eng.Get(result.ID)
	if m.Stability <= firstStability {
		t.Errorf("Stability should still grow: %f -> %f", firstStability, m.Stability)
	}
	growthImmediate := m.Stability / firstStability
	if growthImmediate > 1.4 {
		t.Errorf("Immediate review grew stability too fast: %f", growthImmediate)
	}

	if err := eng.Reinforce(result.ID, 2.0); err == nil {
		t.Error("Expected error for out-of-range boost")
	}
	if err := eng.Reinforce("missing", 0.1); err == nil {
		t.Error("Expected error for unknown id")
	}
}

func TestImportanceCapsAtOne(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Store(ctx, "a", "nearly maxed", &StoreOptions{Importance: floatPtr(0.95)})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Reinforce(result.ID, 0.5); err != nil {
		t.Fatal(err)
	}
	m, _ := eng.Get(result.ID)
	if m.Importance != 1.0 {
		t.Errorf("Expected importance capped at 1.0, got %f", m.Importance)
	}
}
