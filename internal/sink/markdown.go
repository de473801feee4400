// Package sink provides write-through observers of engine events. The
// markdown sink mirrors graph mutations into an append-only journal so a
// human (or another tool) can follow what the agents remembered without
// touching the store.
package sink

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/internal/memory"
)

var log = logging.GetLogger("sink.markdown")

// MarkdownSink appends engine events to a markdown journal file.
type MarkdownSink struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewMarkdownSink creates a sink writing to the given path.
func NewMarkdownSink(path string) *MarkdownSink {
	return &MarkdownSink{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Handle is the engine event listener. Failures are logged and swallowed;
// a broken journal must never affect the graph.
func (s *MarkdownSink) Handle(event string, payload any) {
	var line string
	switch event {
	case "store":
		m, ok := payload.(*memory.Memory)
		if !ok {
			return
		}
		line = fmt.Sprintf("- **store** `%s` (%s/%s): %s", m.ID, m.Agent, m.Category, m.Text)
	case "supersede":
		info, ok := payload.(map[string]any)
		if !ok {
			return
		}
		line = fmt.Sprintf("- **supersede** `%v` replaced by `%v`", info["superseded"], info["by"])
	case "decay":
		line = fmt.Sprintf("- **decay** %+v", payload)
	case "conflict:pending":
		p, ok := payload.(*memory.PendingConflict)
		if !ok {
			return
		}
		line = fmt.Sprintf("- **conflict** new `%s` vs existing `%s`", p.NewID, p.ExistingID)
	case "conflict:resolved":
		p, ok := payload.(*memory.PendingConflict)
		if !ok {
			return
		}
		line = fmt.Sprintf("- **resolved** `%s` as %s", p.ID, p.Resolution)
	case "compress":
		line = fmt.Sprintf("- **compress** %+v", payload)
	default:
		return
	}

	s.append(line)
}

func (s *MarkdownSink) append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("failed to open journal", "path", s.path, "error", err)
		return
	}
	defer f.Close()

	stamp := s.now().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "%s %s\n", stamp, line); err != nil {
		log.Warn("failed to append to journal", "path", s.path, "error", err)
	}
}
