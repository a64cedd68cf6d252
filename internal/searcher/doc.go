// Package searcher fuses vector and lexical retrieval.
//
// A query runs two legs concurrently against one index view: the vector leg
// (query embedding + HNSW) and the lexical leg (FTS5 BM25 over code-aware
// tokens). Each leg returns up to max(3k, 30) chunk ids, which are merged
// with weighted Reciprocal Rank Fusion:
//
//	score(d) = w/(60 + rank_vec(d)) + (1-w)/(60 + rank_lex(d))
//
// Candidates that score 0 are dropped, so w=0 returns exactly the lexical
// order and w=1 exactly the vector order. Invalidated chunks are filtered
// after fusion unless the request asks for them.
//
// When the vector leg reports types.ErrEmbedderUnavailable the search is
// answered from the lexical leg alone and the response is marked Degraded.
//
// Results are kept in an LRU keyed by the request and the index write
// sequence; any write to the index makes earlier entries unreachable.
//
//	s := searcher.New(searcher.DefaultCacheSize, logger)
//	resp, err := s.Search(ctx, view, searcher.Request{
//	    Query:        "parse config file",
//	    Limit:        10,
//	    VectorWeight: 0.5,
//	}, seq)
package searcher
