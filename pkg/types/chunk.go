package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChunkKind represents the structural kind of a code chunk
type ChunkKind string

const (
	ChunkFunction      ChunkKind = "function"
	ChunkClass         ChunkKind = "class"
	ChunkMethod        ChunkKind = "method"
	ChunkFile          ChunkKind = "file"
	ChunkImport        ChunkKind = "import"
	ChunkDocumentation ChunkKind = "documentation"
)

// Tier classifies where a chunk's source lives, used for relevance filtering
type Tier string

const (
	TierProject    Tier = "project"
	TierDependency Tier = "dependency"
	TierStdlib     Tier = "stdlib"
)

// ParseTier converts a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierProject, TierDependency, TierStdlib:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q (want project, dependency or stdlib)", s)
}

// Chunk represents a retrievable unit of code with a stable identity
type Chunk struct {
	// Identification
	ID     string
	Symbol string
	Kind   ChunkKind

	// Location
	FilePath  string // Absolute path
	StartLine int    // 1-based, inclusive
	EndLine   int    // 1-based, inclusive
	Language  Language

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 of Content

	// Metadata
	Tier      Tier
	Embedding []float32 // Optional; nil when not yet embedded
	CreatedAt time.Time
}

// ValidateContent checks if the chunk content and range are valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// ValidateKind checks if the chunk kind is valid
func (c *Chunk) ValidateKind() error {
	switch c.Kind {
	case ChunkFunction, ChunkClass, ChunkMethod, ChunkFile, ChunkImport, ChunkDocumentation:
		return nil
	default:
		return errors.New("invalid chunk kind")
	}
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if err := c.ValidateKind(); err != nil {
		return err
	}

	if c.FilePath == "" {
		return errors.New("file path is required")
	}

	if c.ID == "" {
		return ErrInvalidChunkID
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	return nil
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// ComputeID derives the chunk id from its path, range and content.
// Unchanged text at the same location always yields the same id.
func (c *Chunk) ComputeID() string {
	h := sha256.New()
	h.Write([]byte(c.FilePath))
	h.Write([]byte{0})
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(c.StartLine))
	binary.LittleEndian.PutUint64(buf[8:], uint64(c.EndLine))
	h.Write(buf[:])
	h.Write([]byte(c.Content))
	sum := h.Sum(nil)
	c.ID = hex.EncodeToString(sum[:16])
	return c.ID
}

// LineCount returns the number of lines covered by the chunk
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// HashHex returns the content hash as a hex string
func (c *Chunk) HashHex() string {
	return hex.EncodeToString(c.ContentHash[:])
}
