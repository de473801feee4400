package engine

import (
	"math"

	"github.com/engramkit/engram/internal/memory"
)

// DecayReport buckets every memory by its current strength.
type DecayReport struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Weakening int `json:"weakening"`
	Archived  int `json:"archived"`
	Deleted   int `json:"deleted"`
}

// Decay computes the strength of every memory and removes the ones that
// fell below the archive or delete thresholds, copying them to the archive
// first. A dry run only reports the buckets.
func (e *Engine) Decay(dryRun bool) (*DecayReport, error) {
	e.mu.Lock()

	now := e.now()
	report := &DecayReport{Total: len(e.memories)}

	var archiveBucket, deleteBucket []*memory.Memory
	for _, m := range e.memories {
		strength := e.strengthOf(m, now)
		switch {
		case strength < e.opts.DeleteThreshold:
			report.Deleted++
			deleteBucket = append(deleteBucket, m)
		case strength < e.opts.ArchiveThreshold:
			report.Archived++
			archiveBucket = append(archiveBucket, m)
		case strength < 0.3:
			report.Weakening++
		default:
			report.Healthy++
		}
	}

	if dryRun {
		e.mu.Unlock()
		return report, nil
	}

	if len(archiveBucket) > 0 || len(deleteBucket) > 0 {
		if err := e.appendArchive(archiveBucket, "decayed"); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		if err := e.appendArchive(deleteBucket, "decayed"); err != nil {
			e.mu.Unlock()
			return nil, err
		}

		removed := make(map[string]struct{}, len(archiveBucket)+len(deleteBucket))
		var removedIDs []string
		for _, m := range append(archiveBucket, deleteBucket...) {
			removed[m.ID] = struct{}{}
			removedIDs = append(removedIDs, m.ID)
		}
		changed := e.removeFromList(removed)

		if err := e.persistRemovals(removedIDs); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		if len(changed) > 0 {
			if err := e.persistMemories(changed...); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		}
	}
	e.mu.Unlock()

	e.emit(EventDecay, report)
	return report, nil
}

// Reinforce raises a memory's importance and updates its SM-2 state.
// Spaced reviews grow stability faster than immediate repeats.
func (e *Engine) Reinforce(id string, boost float64) error {
	if boost == 0 {
		boost = 0.1
	}
	if boost < 0 || boost > 1 {
		return invalidf("boost must be in (0,1]")
	}

	e.mu.Lock()
	m, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", id)
	}

	now := e.now()
	m.Importance = math.Min(1, m.Importance+boost)
	m.AccessCount++
	m.Reinforcements++
	refreshTrust(m, now)

	interval := math.Max(0.01, now.Sub(m.UpdatedAt).Hours()/24)
	spacing := math.Min(3, interval/math.Max(1, m.LastReviewInterval))
	stability := m.Stability
	if stability == 0 {
		stability = e.opts.InitialStability
	}
	m.Stability = stability * (1 + (e.opts.StabilityGrowth-1)*spacing/3)
	m.LastReviewInterval = interval
	m.UpdatedAt = now

	err := e.persistMemories(m)
	e.mu.Unlock()
	return err
}
