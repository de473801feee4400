package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/engramkit/engram/internal/memory"
)

func TestMarkdownSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.md")
	s := NewMarkdownSink(path)

	s.Handle("store", &memory.Memory{ID: "m1", Agent: "alice", Category: "fact", Text: "the fact"})
	s.Handle("supersede", map[string]any{"superseded": "m0", "by": "m1"})
	s.Handle("search", "ignored event")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Journal not written: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "**store** `m1` (alice/fact): the fact") {
		t.Errorf("Missing store line:\n%s", content)
	}
	if !strings.Contains(content, "**supersede** `m0` replaced by `m1`") {
		t.Errorf("Missing supersede line:\n%s", content)
	}
	if strings.Contains(content, "ignored event") {
		t.Error("Unhandled events should not be journaled")
	}
	if lines := strings.Count(content, "\n"); lines != 2 {
		t.Errorf("Expected 2 lines, got %d", lines)
	}
}

func TestMarkdownSinkBadPayloadIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.md")
	s := NewMarkdownSink(path)

	s.Handle("store", "not a memory")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Bad payloads should not create the journal")
	}
}
