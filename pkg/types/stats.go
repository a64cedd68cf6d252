package types

import "time"

// IndexStats holds aggregate counts about an index, recomputed on demand
type IndexStats struct {
	Files       int
	Chunks      int
	ValidChunks int
	StaleChunks int
	Vectors     int
	IndexBytes  int64
	LastUpdated time.Time
	Generation  uint64
	Embedder    string
	Degraded    bool // Semantic search disabled for this session
}

// StalenessRatio returns the share of stored chunks that are stale
func (s IndexStats) StalenessRatio() float64 {
	if s.Chunks == 0 {
		return 0
	}
	return float64(s.StaleChunks) / float64(s.Chunks)
}

// NeedsCompaction reports whether stale chunks are waiting for compaction
func (s IndexStats) NeedsCompaction() bool {
	return s.StaleChunks > 0
}
