package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/dshills/codeintel/pkg/types"
)

// Common errors
var (
	ErrProviderFailed      = errors.New("embedding provider failed")
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrEmptyText           = errors.New("text cannot be empty")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Embedder turns texts into fixed-dimension vectors. Embed returns one
// vector per input text, in order. An error wrapping
// types.ErrEmbedderUnavailable means semantic search should be disabled for
// the call.
type Embedder interface {
	// Embed generates embeddings for a batch of texts
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Name identifies an embedder as "provider/model"
func Name(e Embedder) string {
	return e.Provider() + "/" + e.Model()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// validateTexts rejects empty batches and empty texts
func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrEmptyText)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}
	return nil
}

// checkDimensions verifies a provider response against the expected shape
func checkDimensions(vectors [][]float32, count, dim int) error {
	if len(vectors) != count {
		return fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(vectors), count)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: embedding %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// unavailable marks err as a session-level embedding outage
func unavailable(err error) error {
	if errors.Is(err, types.ErrEmbedderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrEmbedderUnavailable, err)
}

// NormalizeVector scales v to unit length in place (for cosine similarity).
// Zero vectors are left unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
