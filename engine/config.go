package engine

import "time"

// Config holds the tuning knobs of the engine. Zero values fall back
// to DefaultConfig at construction.
type Config struct {
	// EmbedDim is the embedding dimension every stored vector must have.
	EmbedDim int

	// UsageHotThreshold promotes a record to HOT once its usage count
	// reaches it.
	UsageHotThreshold int

	// WeightHotThreshold promotes a record to HOT once its effective
	// weight reaches it.
	WeightHotThreshold float64

	// DecayWarmThreshold demotes a HOT record once its decay score
	// falls below it (and usage stays under DemotionUsageThreshold).
	DecayWarmThreshold float64

	// DemotionUsageThreshold protects recently used records from
	// demotion.
	DemotionUsageThreshold int

	// PruneEpsilon is the effective-weight floor below which unused
	// COLD records are pruned.
	PruneEpsilon float64

	// ConsolidationInterval schedules a consolidation pass after this
	// many writes.
	ConsolidationInterval int

	// ConsolidationChunkSize bounds how many WARM rows one clustering
	// step holds in memory.
	ConsolidationChunkSize int

	// UseAdvancedClustering enables graph clustering for large corpora.
	UseAdvancedClustering bool

	// AdvancedClusteringThreshold is the WARM record count at or above
	// which graph clustering replaces agglomerative clustering.
	AdvancedClusteringThreshold int

	// ClusterDiameter is the maximum cosine distance within a cluster.
	ClusterDiameter float64

	// MaxClustersPerPass bounds one graph clustering pass.
	MaxClustersPerPass int

	// JournalRotationSize rotates the journal once this many live
	// entries accumulate. Negative disables rotation.
	JournalRotationSize int

	// ColdSearchChunkSize bounds the COLD linear scan chunks.
	ColdSearchChunkSize int

	// CompactionThreshold schedules an index compaction after this many
	// soft deletes.
	CompactionThreshold int

	// MutationBatchSize schedules an immediate save after this many
	// unsaved mutations.
	MutationBatchSize int

	// AutosaveEnabled and AutosaveInterval drive the periodic save.
	AutosaveEnabled  bool
	AutosaveInterval time.Duration

	// Memory pressure thresholds, in bytes of remaining storage.
	MemoryWarningThreshold  int64
	MemoryCriticalThreshold int64
	MemoryCheckInterval     time.Duration
}

// DefaultConfig matches the documented defaults.
var DefaultConfig = Config{
	EmbedDim:                    768,
	UsageHotThreshold:           10,
	WeightHotThreshold:          0.8,
	DecayWarmThreshold:          0.1,
	DemotionUsageThreshold:      2,
	PruneEpsilon:                0.01,
	ConsolidationInterval:       100,
	ConsolidationChunkSize:      500,
	UseAdvancedClustering:       true,
	AdvancedClusteringThreshold: 5000,
	ClusterDiameter:             0.3,
	MaxClustersPerPass:          100,
	JournalRotationSize:         10000,
	ColdSearchChunkSize:         1000,
	CompactionThreshold:         100,
	MutationBatchSize:           10,
	AutosaveEnabled:             true,
	AutosaveInterval:            5 * time.Minute,
	MemoryWarningThreshold:      100 * 1024 * 1024,
	MemoryCriticalThreshold:     50 * 1024 * 1024,
	MemoryCheckInterval:         60 * time.Second,
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.EmbedDim <= 0 {
		c.EmbedDim = d.EmbedDim
	}
	if c.UsageHotThreshold <= 0 {
		c.UsageHotThreshold = d.UsageHotThreshold
	}
	if c.WeightHotThreshold <= 0 {
		c.WeightHotThreshold = d.WeightHotThreshold
	}
	if c.DecayWarmThreshold <= 0 {
		c.DecayWarmThreshold = d.DecayWarmThreshold
	}
	if c.DemotionUsageThreshold <= 0 {
		c.DemotionUsageThreshold = d.DemotionUsageThreshold
	}
	if c.PruneEpsilon <= 0 {
		c.PruneEpsilon = d.PruneEpsilon
	}
	if c.ConsolidationInterval <= 0 {
		c.ConsolidationInterval = d.ConsolidationInterval
	}
	if c.ConsolidationChunkSize <= 0 {
		c.ConsolidationChunkSize = d.ConsolidationChunkSize
	}
	if c.AdvancedClusteringThreshold <= 0 {
		c.AdvancedClusteringThreshold = d.AdvancedClusteringThreshold
	}
	if c.ClusterDiameter <= 0 {
		c.ClusterDiameter = d.ClusterDiameter
	}
	if c.MaxClustersPerPass <= 0 {
		c.MaxClustersPerPass = d.MaxClustersPerPass
	}
	if c.JournalRotationSize == 0 {
		c.JournalRotationSize = d.JournalRotationSize
	} else if c.JournalRotationSize < 0 {
		c.JournalRotationSize = 0 // rotation disabled
	}
	if c.ColdSearchChunkSize <= 0 {
		c.ColdSearchChunkSize = d.ColdSearchChunkSize
	}
	if c.CompactionThreshold <= 0 {
		c.CompactionThreshold = d.CompactionThreshold
	}
	if c.MutationBatchSize <= 0 {
		c.MutationBatchSize = d.MutationBatchSize
	}
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = d.AutosaveInterval
	}
	if c.MemoryWarningThreshold <= 0 {
		c.MemoryWarningThreshold = d.MemoryWarningThreshold
	}
	if c.MemoryCriticalThreshold <= 0 {
		c.MemoryCriticalThreshold = d.MemoryCriticalThreshold
	}
	if c.MemoryCheckInterval <= 0 {
		c.MemoryCheckInterval = d.MemoryCheckInterval
	}
	return c
}
