package engine

import (
	"sort"
	"time"
)

// StrengthBuckets is the decay-strength distribution of the graph.
type StrengthBuckets struct {
	Strong    int `json:"strong"`    // >= 0.7
	Healthy   int `json:"healthy"`   // >= 0.3
	Weakening int `json:"weakening"` // >= 0.15
	Critical  int `json:"critical"`  // >= 0.05
	Dead      int `json:"dead"`      // < 0.05
}

// HealthReport is the graph-wide health snapshot.
type HealthReport struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByAgent    map[string]int `json:"by_agent"`
	ByCategory map[string]int `json:"by_category"`

	Links          int `json:"links"`
	CrossAgentLinks int `json:"cross_agent_links"`
	Orphans        int `json:"orphans"`
	ArchiveCount   int `json:"archive_count"`

	Strength        StrengthBuckets `json:"strength"`
	AverageStrength float64         `json:"average_strength"`

	AverageAgeDays float64 `json:"average_age_days"`
	MaxAgeDays     float64 `json:"max_age_days"`

	AverageStability float64 `json:"average_stability"`
	StabilityCount   int     `json:"stability_count"`

	PendingConflicts int `json:"pending_conflicts"`
	Episodes         int `json:"episodes"`
	LabeledClusters  int `json:"labeled_clusters"`
}

// Health computes the graph-wide health snapshot.
func (e *Engine) Health() (*HealthReport, error) {
	archive, err := e.store.LoadArchive()
	if err != nil {
		return nil, storageErr(err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	report := &HealthReport{
		Total:        len(e.memories),
		ByStatus:     make(map[string]int),
		ByAgent:      make(map[string]int),
		ByCategory:   make(map[string]int),
		ArchiveCount: len(archive),
		Episodes:     len(e.episodes),
		LabeledClusters: len(e.clusters),
	}
	for _, p := range e.pending {
		if p.Open() {
			report.PendingConflicts++
		}
	}

	var strengthSum, ageSum, stabilitySum float64
	for _, m := range e.memories {
		report.ByStatus[m.Status]++
		report.ByAgent[m.Agent]++
		report.ByCategory[m.Category]++
		report.Links += len(m.Links)
		if len(m.Links) == 0 {
			report.Orphans++
		}
		for _, l := range m.Links {
			if target, ok := e.byID[l.TargetID]; ok && target.Agent != m.Agent {
				report.CrossAgentLinks++
			}
		}

		strength := e.strengthOf(m, now)
		strengthSum += strength
		switch {
		case strength >= 0.7:
			report.Strength.Strong++
		case strength >= 0.3:
			report.Strength.Healthy++
		case strength >= 0.15:
			report.Strength.Weakening++
		case strength >= 0.05:
			report.Strength.Critical++
		default:
			report.Strength.Dead++
		}

		ageDays := now.Sub(m.CreatedAt).Hours() / 24
		ageSum += ageDays
		if ageDays > report.MaxAgeDays {
			report.MaxAgeDays = ageDays
		}

		if m.Stability > 0 {
			report.StabilityCount++
			stabilitySum += m.Stability
		}
	}

	if len(e.memories) > 0 {
		report.AverageStrength = strengthSum / float64(len(e.memories))
		report.AverageAgeDays = ageSum / float64(len(e.memories))
	}
	if report.StabilityCount > 0 {
		report.AverageStability = stabilitySum / float64(report.StabilityCount)
	}
	return report, nil
}

// TimelineEntry is a small projection of one memory in a timeline.
type TimelineEntry struct {
	ID       string    `json:"id"`
	Agent    string    `json:"agent"`
	Category string    `json:"category"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// TimelineDay groups the entries of one calendar date.
type TimelineDay struct {
	Date    string          `json:"date"`
	Entries []TimelineEntry `json:"entries"`
}

// Time field selectors for Timeline.
const (
	TimeFieldAuto    = "auto"
	TimeFieldEvent   = "event"
	TimeFieldCreated = "created"
)

// Timeline groups memories of the last N days by date. The time field
// selects between event time, creation time, or the bi-temporal default.
func (e *Engine) Timeline(agent string, days int, timeField string) ([]TimelineDay, error) {
	if days <= 0 {
		days = 7
	}
	switch timeField {
	case "", TimeFieldAuto, TimeFieldEvent, TimeFieldCreated:
	default:
		return nil, invalidf("unknown time_field: %s", timeField)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	cutoff := now.AddDate(0, 0, -days)

	byDate := make(map[string][]TimelineEntry)
	for _, m := range e.memories {
		if agent != "" && m.Agent != agent {
			continue
		}
		var at time.Time
		switch timeField {
		case TimeFieldEvent:
			if m.EventAt == nil {
				continue
			}
			at = *m.EventAt
		case TimeFieldCreated:
			at = m.CreatedAt
		default:
			at = m.EffectiveTime()
		}
		if at.Before(cutoff) {
			continue
		}
		date := at.Format("2006-01-02")
		byDate[date] = append(byDate[date], TimelineEntry{
			ID: m.ID, Agent: m.Agent, Category: m.Category, Text: m.Text, At: at,
		})
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]TimelineDay, 0, len(dates))
	for _, date := range dates {
		entries := byDate[date]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
		out = append(out, TimelineDay{Date: date, Entries: entries})
	}
	return out, nil
}
