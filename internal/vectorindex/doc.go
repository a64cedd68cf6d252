// Package vectorindex is an append-only HNSW approximate nearest neighbour
// index over cosine distance.
//
// Vectors are normalized and stored as half-precision floats. The index is
// persisted as a single zstd-compressed file with a magic header, a format
// version and a CRC32 trailer; SaveFile replaces the file atomically.
//
//	idx := vectorindex.New(384, vectorindex.DefaultConfig())
//	if _, err := idx.Add(chunkID, vec); err != nil {
//	    return err
//	}
//	hits, err := idx.Search(queryVec, 30)
//
// There is no delete. Callers filter stale ids at query time and rebuild the
// index to drop them.
package vectorindex
