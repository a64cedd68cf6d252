// Package embedder turns chunk text into fixed-dimension vectors.
//
// Four providers are available:
//
//   - local: deterministic feature-hashed vectors over code-aware tokens; no
//     network, no model download (the default)
//   - daemon: an embedding daemon reached over HTTP
//     (POST /embed {"texts": [...]} -> {"embeddings": [[...]]})
//   - openai: the OpenAI embeddings API
//   - none: semantic search disabled
//
// New composes the configured provider with the standard wrappers:
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := emb.Embed(ctx, []string{"func ParseFile(path string) error"})
//	if errors.Is(err, types.ErrEmbedderUnavailable) {
//	    // fall back to lexical-only search
//	}
//
// Cached serves repeated texts from an LRU cache, Serialized keeps a single
// call in flight and WithTimeout turns a slow provider into
// types.ErrEmbedderUnavailable. Remote providers retry transient failures
// with exponential backoff before giving up.
package embedder
