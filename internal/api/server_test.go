package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/engramkit/engram/internal/engine"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/pkg/config"
)

// fakeStore is a minimal in-memory storage adapter for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	memories []*memory.Memory
	archive  []*memory.Memory
	episodes []*memory.Episode
	clusters []*memory.LabeledCluster
	pending  []*memory.PendingConflict
	nextID   int
}

func (s *fakeStore) Load() ([]*memory.Memory, error)          { return s.memories, nil }
func (s *fakeStore) Save(m []*memory.Memory) error            { s.memories = m; return nil }
func (s *fakeStore) LoadArchive() ([]*memory.Memory, error)   { return s.archive, nil }
func (s *fakeStore) SaveArchive(m []*memory.Memory) error     { s.archive = m; return nil }
func (s *fakeStore) LoadEpisodes() ([]*memory.Episode, error) { return s.episodes, nil }
func (s *fakeStore) SaveEpisodes(e []*memory.Episode) error   { s.episodes = e; return nil }
func (s *fakeStore) LoadClusters() ([]*memory.LabeledCluster, error) {
	return s.clusters, nil
}
func (s *fakeStore) SaveClusters(c []*memory.LabeledCluster) error { s.clusters = c; return nil }
func (s *fakeStore) LoadPendingConflicts() ([]*memory.PendingConflict, error) {
	return s.pending, nil
}
func (s *fakeStore) SavePendingConflicts(p []*memory.PendingConflict) error {
	s.pending = p
	return nil
}
func (s *fakeStore) GenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("api-m%d", s.nextID)
}
func (s *fakeStore) GenEpisodeID() string { return "ep-" + s.GenID() }
func (s *fakeStore) GenClusterID() string { return "cl-" + s.GenID() }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(&fakeStore{}, engine.Options{})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.RestAPI.CORS = false
	return NewServer(eng, cfg)
}

func doJSON(t *testing.T, server *Server, method, path string, body any) (*httptest.ResponseRecorder, *Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body %q: %v", w.Body.String(), err)
	}
	return w, &resp
}

func TestStoreEndpoint(t *testing.T) {
	server := newTestServer(t)

	w, resp := doJSON(t, server, "POST", "/api/v1/memories", storeRequest{
		Agent: "alice",
		Text:  "stored over http",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !resp.Success {
		t.Errorf("Expected success envelope, got %+v", resp)
	}

	t.Run("ValidationErrorIs400", func(t *testing.T) {
		w, resp := doJSON(t, server, "POST", "/api/v1/memories", storeRequest{Agent: "", Text: "x"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if resp.Success {
			t.Error("Expected failure envelope")
		}
	})
}

func TestSearchEndpoint(t *testing.T) {
	server := newTestServer(t)
	doJSON(t, server, "POST", "/api/v1/memories", storeRequest{Agent: "alice", Text: "searchable entry"})

	w, resp := doJSON(t, server, "GET", "/api/v1/search?agent=alice&q=searchable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data, _ := json.Marshal(resp.Data)
	var parsed engine.SearchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Bad search payload: %v", err)
	}
	if len(parsed.Hits) != 1 {
		t.Errorf("Expected 1 hit, got %d", len(parsed.Hits))
	}

	t.Run("BlankQueryIs400", func(t *testing.T) {
		w, _ := doJSON(t, server, "GET", "/api/v1/search?agent=alice", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

func TestGetEndpointNotFound(t *testing.T) {
	server := newTestServer(t)
	w, _ := doJSON(t, server, "GET", "/api/v1/memories/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	doJSON(t, server, "POST", "/api/v1/memories", storeRequest{Agent: "alice", Text: "healthy"})

	w, resp := doJSON(t, server, "GET", "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	data, _ := json.Marshal(resp.Data)
	var report engine.HealthReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("Bad health payload: %v", err)
	}
	if report.Total != 1 {
		t.Errorf("Expected 1 memory, got %d", report.Total)
	}
}

func TestContextEndpoint(t *testing.T) {
	server := newTestServer(t)
	doJSON(t, server, "POST", "/api/v1/memories", storeRequest{Agent: "alice", Text: "context material"})

	w, resp := doJSON(t, server, "GET", "/api/v1/context?agent=alice&q=context", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data, _ := json.Marshal(resp.Data)
	var result engine.ContextResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Bad context payload: %v", err)
	}
	if result.Count != 1 {
		t.Errorf("Expected 1 context memory, got %d", result.Count)
	}
}
