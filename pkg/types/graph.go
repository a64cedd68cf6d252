package types

// EntityKind is the kind of symbol reference found in a chunk
type EntityKind string

const (
	EntityCall    EntityKind = "call"
	EntityTypeRef EntityKind = "type-reference"
	EntityImport  EntityKind = "import"
)

// Entity is a symbol referenced inside a chunk
type Entity struct {
	Name          string
	Kind          EntityKind
	SourceChunkID string
}

// Relationship is a directed edge discovered during multi-hop research.
// TargetChunkID is empty when the target never resolved to a chunk.
type Relationship struct {
	SourceSymbol  string
	TargetSymbol  string
	Kind          EntityKind
	SourceChunkID string
	TargetChunkID string
}

// Resolved reports whether the edge points at a known chunk
func (r Relationship) Resolved() bool {
	return r.TargetChunkID != ""
}
