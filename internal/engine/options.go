package engine

import "time"

// Weights are the composite re-ranking weights used by search.
type Weights struct {
	Relevance  float64 `json:"relevance"`
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// DefaultWeights returns the standard re-ranking weights.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.40, Confidence: 0.25, Recency: 0.20, Importance: 0.15}
}

// Options tune the engine. Zero values are replaced with defaults by
// withDefaults.
type Options struct {
	// A-MEM linking
	LinkThreshold     float64
	MaxLinksPerMemory int

	// Capacity
	MaxMemories   int
	MaxBatchSize  int
	MaxQueryBatch int

	// Decay
	HalfLifeDays     float64
	ArchiveThreshold float64
	DeleteThreshold  float64

	// SM-2 reinforcement
	InitialStability float64
	StabilityGrowth  float64

	// Consolidation
	DedupThreshold       float64
	CorroborateThreshold float64
	CompressAgeDays      float64
	PruneAgeDays         float64
	QuarantineMaxAgeDays float64
	PruneQuarantined     bool

	// Search
	RerankWeights Weights

	// Evolve rate limit
	EvolveMinInterval time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		LinkThreshold:        0.3,
		MaxLinksPerMemory:    5,
		MaxMemories:          10000,
		MaxBatchSize:         100,
		MaxQueryBatch:        20,
		HalfLifeDays:         30,
		ArchiveThreshold:     0.15,
		DeleteThreshold:      0.05,
		InitialStability:     1.0,
		StabilityGrowth:      2.0,
		DedupThreshold:       0.95,
		CorroborateThreshold: 0.9,
		CompressAgeDays:      30,
		PruneAgeDays:         30,
		QuarantineMaxAgeDays: 14,
		PruneQuarantined:     false,
		RerankWeights:        DefaultWeights(),
		EvolveMinInterval:    time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LinkThreshold == 0 {
		o.LinkThreshold = d.LinkThreshold
	}
	if o.MaxLinksPerMemory == 0 {
		o.MaxLinksPerMemory = d.MaxLinksPerMemory
	}
	if o.MaxMemories == 0 {
		o.MaxMemories = d.MaxMemories
	}
	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = d.MaxBatchSize
	}
	if o.MaxQueryBatch == 0 {
		o.MaxQueryBatch = d.MaxQueryBatch
	}
	if o.HalfLifeDays == 0 {
		o.HalfLifeDays = d.HalfLifeDays
	}
	if o.ArchiveThreshold == 0 {
		o.ArchiveThreshold = d.ArchiveThreshold
	}
	if o.DeleteThreshold == 0 {
		o.DeleteThreshold = d.DeleteThreshold
	}
	if o.InitialStability == 0 {
		o.InitialStability = d.InitialStability
	}
	if o.StabilityGrowth == 0 {
		o.StabilityGrowth = d.StabilityGrowth
	}
	if o.DedupThreshold == 0 {
		o.DedupThreshold = d.DedupThreshold
	}
	if o.CorroborateThreshold == 0 {
		o.CorroborateThreshold = d.CorroborateThreshold
	}
	if o.CompressAgeDays == 0 {
		o.CompressAgeDays = d.CompressAgeDays
	}
	if o.PruneAgeDays == 0 {
		o.PruneAgeDays = d.PruneAgeDays
	}
	if o.QuarantineMaxAgeDays == 0 {
		o.QuarantineMaxAgeDays = d.QuarantineMaxAgeDays
	}
	if o.RerankWeights == (Weights{}) {
		o.RerankWeights = d.RerankWeights
	}
	if o.EvolveMinInterval == 0 {
		o.EvolveMinInterval = d.EvolveMinInterval
	}
	return o
}
