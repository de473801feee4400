package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/engramkit/engram/internal/memory"
)

// memStore is an in-memory storage adapter for tests.
type memStore struct {
	mu       sync.Mutex
	memories []*memory.Memory
	archive  []*memory.Memory
	episodes []*memory.Episode
	clusters []*memory.LabeledCluster
	pending  []*memory.PendingConflict

	nextID    int
	saves     int
	failSaves bool
}

func (s *memStore) Load() ([]*memory.Memory, error) { return s.memories, nil }

func (s *memStore) Save(memories []*memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("disk full")
	}
	s.saves++
	s.memories = append([]*memory.Memory(nil), memories...)
	return nil
}

func (s *memStore) LoadArchive() ([]*memory.Memory, error) { return s.archive, nil }

func (s *memStore) SaveArchive(memories []*memory.Memory) error {
	s.archive = append([]*memory.Memory(nil), memories...)
	return nil
}

func (s *memStore) LoadEpisodes() ([]*memory.Episode, error) { return s.episodes, nil }

func (s *memStore) SaveEpisodes(episodes []*memory.Episode) error {
	s.episodes = append([]*memory.Episode(nil), episodes...)
	return nil
}

func (s *memStore) LoadClusters() ([]*memory.LabeledCluster, error) { return s.clusters, nil }

func (s *memStore) SaveClusters(clusters []*memory.LabeledCluster) error {
	s.clusters = append([]*memory.LabeledCluster(nil), clusters...)
	return nil
}

func (s *memStore) LoadPendingConflicts() ([]*memory.PendingConflict, error) { return s.pending, nil }

func (s *memStore) SavePendingConflicts(conflicts []*memory.PendingConflict) error {
	if s.failSaves {
		return errors.New("disk full")
	}
	s.pending = append([]*memory.PendingConflict(nil), conflicts...)
	return nil
}

func (s *memStore) GenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("m%03d", s.nextID)
}

func (s *memStore) GenEpisodeID() string { return "ep-" + s.GenID() }

func (s *memStore) GenClusterID() string { return "cl-" + s.GenID() }

// stubEmbedder returns canned vectors per text prefix and nil otherwise.
type stubEmbedder struct {
	vectors map[string][]float64
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = s.vectors[t]
	}
	return out, nil
}

// stubChatter replays a fixed answer.
type stubChatter struct {
	answer string
	err    error
	prompts []string
}

func (s *stubChatter) Chat(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.answer, s.err
}

func newTestEngine(t *testing.T) (*Engine, *memStore) {
	t.Helper()
	store := &memStore{}
	eng, err := New(store, Options{})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	eng.sleep = func(time.Duration) {}
	return eng, store
}

func floatPtr(v float64) *float64 { return &v }

func TestStoreValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		agent string
		text  string
		opts  *StoreOptions
	}{
		{"EmptyAgent", "", "text", nil},
		{"BadAgentCharacter", "agent one", "text", nil},
		{"EmptyText", "a", "   ", nil},
		{"ImportanceOutOfRange", "a", "text", &StoreOptions{Importance: floatPtr(1.5)}},
		{"BadEventTime", "a", "text", &StoreOptions{EventTime: "yesterday"}},
		{"ClaimMissingValue", "a", "text", &StoreOptions{Claim: &memory.Claim{Subject: "user", Predicate: "tz"}}},
		{"SessionClaimWithoutSession", "a", "text", &StoreOptions{
			Claim: &memory.Claim{Subject: "user", Predicate: "tz", Value: "UTC", Scope: memory.ScopeSession}}},
		{"UnknownScope", "a", "text", &StoreOptions{
			Claim: &memory.Claim{Subject: "user", Predicate: "tz", Value: "UTC", Scope: "galactic"}}},
		{"UnknownSource", "a", "text", &StoreOptions{Provenance: &memory.Provenance{Source: "gossip"}}},
		{"UnknownOnConflict", "a", "text", &StoreOptions{OnConflict: "explode"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := eng.Store(ctx, c.agent, c.text, c.opts)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestStoreBasics(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Store(ctx, "alice", "Go channels are typed pipes", &StoreOptions{
		Category: "insight",
		Tags:     []string{"go", " concurrency "},
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if result.ID == "" {
		t.Error("Expected generated id")
	}
	if result.TopLink != "none" {
		t.Errorf("Expected no links, got %q", result.TopLink)
	}

	m, err := eng.Get(result.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.Status != memory.StatusActive {
		t.Errorf("Expected active status, got %s", m.Status)
	}
	if m.Category != "insight" {
		t.Errorf("Expected insight category, got %s", m.Category)
	}
	if len(m.Tags) != 2 || m.Tags[1] != "concurrency" {
		t.Errorf("Expected trimmed tags, got %v", m.Tags)
	}
	if m.Provenance.Source != memory.SourceInference || m.Provenance.Corroboration != 1 {
		t.Errorf("Unexpected default provenance: %+v", m.Provenance)
	}
	if m.Confidence == 0 {
		t.Error("Expected confidence to be set")
	}
	if store.saves == 0 {
		t.Error("Expected a persistence call")
	}
}

func TestStoreCapacity(t *testing.T) {
	store := &memStore{}
	eng, err := New(store, Options{MaxMemories: 2})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := eng.Store(ctx, "a", fmt.Sprintf("memory %d", i), nil); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}
	_, err = eng.Store(ctx, "a", "one too many", nil)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Expected ErrCapacityExceeded, got %v", err)
	}
}

// Scenario: storing the same normalized claim twice corroborates instead of
// creating a second node.
func TestStoreClaimDedup(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	claim := &memory.Claim{Subject: "user", Predicate: "timezone", Value: "UTC", Scope: memory.ScopeGlobal}

	first, err := eng.Store(ctx, "a", "Timezone is UTC", &StoreOptions{Claim: claim})
	if err != nil {
		t.Fatalf("First store failed: %v", err)
	}

	second, err := eng.Store(ctx, "a", "Timezone is UTC", &StoreOptions{Claim: claim})
	if err != nil {
		t.Fatalf("Second store failed: %v", err)
	}
	if !second.Deduplicated {
		t.Error("Expected deduplicated result")
	}
	if second.ID != first.ID {
		t.Errorf("Expected same id, got %s vs %s", second.ID, first.ID)
	}
	if eng.Count() != 1 {
		t.Errorf("Expected 1 memory, got %d", eng.Count())
	}

	m, _ := eng.Get(first.ID)
	if m.Provenance.Corroboration != 2 {
		t.Errorf("Expected corroboration 2, got %d", m.Provenance.Corroboration)
	}
}

// Scenario: a higher-trust claim supersedes the existing lower-trust value.
func TestStoreTrustGatedSupersession(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var supersedeEvents int
	eng.On(EventSupersede, func(string, any) { supersedeEvents++ })

	old, err := eng.Store(ctx, "a", "Theme is blue", &StoreOptions{
		Claim:      &memory.Claim{Subject: "user", Predicate: "theme", Value: "blue"},
		Provenance: &memory.Provenance{Source: memory.SourceInference},
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	updated, err := eng.Store(ctx, "a", "Theme is green", &StoreOptions{
		Claim:      &memory.Claim{Subject: "user", Predicate: "theme", Value: "green"},
		Provenance: &memory.Provenance{Source: memory.SourceUserExplicit},
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	oldMem, _ := eng.Get(old.ID)
	newMem, _ := eng.Get(updated.ID)

	if oldMem.Status != memory.StatusSuperseded {
		t.Errorf("Expected superseded, got %s", oldMem.Status)
	}
	if oldMem.SupersededBy != newMem.ID {
		t.Errorf("Expected superseded_by %s, got %s", newMem.ID, oldMem.SupersededBy)
	}
	if !containsString(newMem.Supersedes, oldMem.ID) {
		t.Errorf("Expected supersedes to contain %s", oldMem.ID)
	}
	if !newMem.HasLink(oldMem.ID, memory.LinkSupersedes) {
		t.Error("Expected a supersedes link on the new memory")
	}
	if !oldMem.HasLink(newMem.ID, memory.LinkSupersedes) {
		t.Error("Expected the reverse supersedes link")
	}
	if supersedeEvents != 1 {
		t.Errorf("Expected 1 supersede event, got %d", supersedeEvents)
	}
}

// Scenario: a lower-trust claim against a higher-trust value is quarantined
// with an open pending conflict.
func TestStoreReverseTrustQuarantines(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, "a", "Timezone is UTC", &StoreOptions{
		Claim:      &memory.Claim{Subject: "user", Predicate: "timezone", Value: "UTC"},
		Provenance: &memory.Provenance{Source: memory.SourceUserExplicit},
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	weak, err := eng.Store(ctx, "a", "Timezone is PST", &StoreOptions{
		Claim:      &memory.Claim{Subject: "user", Predicate: "timezone", Value: "PST"},
		Provenance: &memory.Provenance{Source: memory.SourceInference},
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !weak.Quarantined {
		t.Fatal("Expected the weaker claim to be quarantined")
	}
	if weak.PendingConflictID == "" {
		t.Error("Expected a pending conflict id")
	}

	weakMem, _ := eng.Get(weak.ID)
	if weakMem.Quarantine == nil || weakMem.Quarantine.Reason != memory.QuarantineTrustInsufficient {
		t.Errorf("Expected trust_insufficient quarantine, got %+v", weakMem.Quarantine)
	}
	if open := eng.PendingConflicts(); len(open) != 1 {
		t.Errorf("Expected 1 open pending conflict, got %d", len(open))
	}

	// Default search hides the quarantined value.
	resp, err := eng.Search(ctx, "a", "timezone", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, h := range resp.Hits {
		if h.Memory.ID == weak.ID {
			t.Error("Quarantined memory leaked into default search")
		}
	}

	resp, err = eng.Search(ctx, "a", "timezone", &SearchOptions{IncludeQuarantined: true})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	found := false
	for _, h := range resp.Hits {
		if h.Memory.ID == weak.ID {
			found = true
		}
	}
	if !found {
		t.Error("include_quarantined should surface the quarantined memory")
	}
}

func TestStoreKeepActiveOnConflict(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, "a", "Editor is vim", &StoreOptions{
		Claim:      &memory.Claim{Subject: "user", Predicate: "editor", Value: "vim"},
		Provenance: &memory.Provenance{Source: memory.SourceUserExplicit},
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	weak, err := eng.Store(ctx, "a", "Editor is emacs", &StoreOptions{
		Claim:      &memory.Claim{Subject: "user", Predicate: "editor", Value: "emacs"},
		Provenance: &memory.Provenance{Source: memory.SourceInference},
		OnConflict: OnConflictKeepActive,
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if weak.Quarantined {
		t.Error("keep_active should leave the new memory active")
	}
	m, _ := eng.Get(weak.ID)
	if m.Status != memory.StatusActive {
		t.Errorf("Expected active, got %s", m.Status)
	}
	if len(eng.PendingConflicts()) != 1 {
		t.Error("keep_active should still record a pending conflict")
	}
}

func TestStoreAutoLinking(t *testing.T) {
	store := &memStore{}
	eng, err := New(store, Options{LinkThreshold: 0.5, MaxLinksPerMemory: 2})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	eng.SetEmbedder(&stubEmbedder{vectors: map[string][]float64{
		"first":  {1, 0, 0},
		"second": {0.9, 0.1, 0},
		"third":  {0, 1, 0},
	}})
	ctx := context.Background()

	first, _ := eng.Store(ctx, "a", "first", nil)
	third, _ := eng.Store(ctx, "a", "third", nil)

	second, err := eng.Store(ctx, "a", "second", nil)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if second.Links != 1 {
		t.Fatalf("Expected 1 auto-link, got %d", second.Links)
	}

	// Both halves of the similar link exist.
	a, _ := eng.Get(first.ID)
	b, _ := eng.Get(second.ID)
	if !b.HasLink(a.ID, memory.LinkSimilar) || !a.HasLink(b.ID, memory.LinkSimilar) {
		t.Error("Expected symmetric similar links")
	}
	c, _ := eng.Get(third.ID)
	if c.HasLink(b.ID, memory.LinkSimilar) {
		t.Error("Orthogonal memory should not be linked")
	}
}

func TestStoreManyRollback(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, "a", "survivor", nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	store.failSaves = true
	_, err := eng.StoreMany(ctx, "a", []BatchItem{
		{Text: "batch one"},
		{Text: "batch two"},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}

	if eng.Count() != 1 {
		t.Errorf("Expected rollback to 1 memory, got %d", eng.Count())
	}
	if _, err := eng.Search(ctx, "a", "survivor", nil); err != nil {
		t.Errorf("Indexes broken after rollback: %v", err)
	}
}

func TestStoreManyBatchLimits(t *testing.T) {
	store := &memStore{}
	eng, err := New(store, Options{MaxBatchSize: 2})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctx := context.Background()

	if _, err := eng.StoreMany(ctx, "a", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for empty batch, got %v", err)
	}

	items := []BatchItem{{Text: "1"}, {Text: "2"}, {Text: "3"}}
	if _, err := eng.StoreMany(ctx, "a", items); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Expected ErrCapacityExceeded, got %v", err)
	}
}

func TestStoreMany(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	results, err := eng.StoreMany(ctx, "a", []BatchItem{
		{Text: "alpha memory"},
		{Text: "beta memory"},
	})
	if err != nil {
		t.Fatalf("StoreMany failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if eng.Count() != 2 {
		t.Errorf("Expected 2 memories, got %d", eng.Count())
	}
}

func TestListenerPanicIsSwallowed(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.On(EventStore, func(string, any) { panic("listener bug") })

	if _, err := eng.Store(context.Background(), "a", "still works", nil); err != nil {
		t.Fatalf("Store failed despite listener panic: %v", err)
	}
}
