package chunker

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dshills/codeintel/pkg/types"
)

const (
	// DefaultMaxSize is the default maximum chunk size in characters
	DefaultMaxSize = 1200

	// DefaultMinSize is the default minimum chunk size in characters
	DefaultMinSize = 50
)

// Options bounds chunk sizes, measured in characters of chunk text
type Options struct {
	MaxSize int
	MinSize int
}

// DefaultOptions returns the default size bounds
func DefaultOptions() Options {
	return Options{MaxSize: DefaultMaxSize, MinSize: DefaultMinSize}
}

// File is the input to the chunker
type File struct {
	Path     string // Absolute path
	Content  []byte
	Language types.Language
	Tier     types.Tier
}

// Chunker turns concepts into the final, ordered chunk list of a file
type Chunker struct {
	opts Options
	now  func() time.Time
}

// New creates a new Chunker. Zero or inconsistent bounds fall back to defaults.
func New(opts Options) *Chunker {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MinSize < 0 || opts.MinSize > opts.MaxSize {
		opts.MinSize = 0
	}
	return &Chunker{opts: opts, now: time.Now}
}

// Options returns the bounds in use
func (c *Chunker) Options() Options {
	return c.opts
}

// piece is a line range on its way to becoming a chunk
type piece struct {
	kind     types.ConceptKind
	name     string
	start    int
	end      int
	children []types.Concept
}

// ChunkFile produces the file's chunks in file order. The chunk ranges
// partition the file's lines; only a single line longer than MaxSize yields a
// chunk above the limit.
func (c *Chunker) ChunkFile(file File, concepts []types.Concept) []*types.Chunk {
	text := string(file.Content)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	doc := newDocument(text)
	top := widen(normalize(concepts, 1, doc.lineCount()), 1, doc.lineCount())
	if len(top) == 0 {
		// No concept lies inside the file; it becomes one piece
		top = []piece{{kind: types.ConceptFile, start: 1, end: doc.lineCount()}}
	}

	var pieces []piece
	for _, p := range top {
		pieces = append(pieces, c.split(doc, p)...)
	}
	pieces = c.merge(doc, pieces)

	chunks := make([]*types.Chunk, 0, len(pieces))
	created := c.now().UTC()
	for _, p := range pieces {
		if doc.blank(p.start, p.end) {
			continue
		}
		chunks = append(chunks, c.newChunk(file, doc, p, created))
	}
	return chunks
}

// split breaks an oversized piece along its children, then along line
// boundaries when it has none.
func (c *Chunker) split(doc *document, p piece) []piece {
	if doc.size(p.start, p.end) <= c.opts.MaxSize {
		return []piece{p}
	}

	children := normalize(p.children, p.start, p.end)
	if len(children) == 1 && children[0].start == p.start && children[0].end == p.end {
		// Child spans the whole parent; descend into it directly
		return c.split(doc, children[0])
	}
	if len(children) > 0 {
		var out []piece
		for _, sub := range c.fragments(doc, p, children) {
			out = append(out, c.split(doc, sub)...)
		}
		return out
	}

	return c.splitLines(doc, p)
}

// fragments partitions a parent range into its children and the parent text
// between them. Whitespace-only gaps join the preceding piece.
func (c *Chunker) fragments(doc *document, parent piece, children []piece) []piece {
	var out []piece
	cursor := parent.start

	addGap := func(from, to int) {
		if from > to {
			return
		}
		if doc.blank(from, to) && len(out) > 0 {
			out[len(out)-1].end = to
			return
		}
		out = append(out, piece{kind: parent.kind, name: parent.name, start: from, end: to})
	}

	for _, child := range children {
		if doc.blank(cursor, child.start-1) && len(out) == 0 && cursor < child.start {
			// Leading whitespace attaches to the first piece
			child.start = cursor
		} else {
			addGap(cursor, child.start-1)
		}
		out = append(out, child)
		cursor = child.end + 1
	}
	addGap(cursor, parent.end)
	return out
}

// splitLines cuts a piece without substructure into greedy line windows
func (c *Chunker) splitLines(doc *document, p piece) []piece {
	if p.start == p.end {
		// Indivisible leaf passes through oversized
		return []piece{p}
	}

	var windows []piece
	start := p.start
	for start <= p.end {
		end := start
		for end < p.end && doc.size(start, end+1) <= c.opts.MaxSize {
			end++
		}
		windows = append(windows, piece{kind: p.kind, name: p.name, start: start, end: end})
		start = end + 1
	}

	// Rebalance a tail below MinSize by borrowing lines from its neighbour
	if n := len(windows); n >= 2 {
		prev, last := &windows[n-2], &windows[n-1]
		for doc.size(last.start, last.end) < c.opts.MinSize && prev.end > prev.start &&
			doc.size(last.start-1, last.end) <= c.opts.MaxSize {
			prev.end--
			last.start--
		}
	}
	return windows
}

// merge greedily joins adjacent pieces left to right when the open group or
// the next piece is below MinSize and the result stays within MaxSize. A
// piece within [MinSize, MaxSize] next to another such piece stays its own
// chunk.
func (c *Chunker) merge(doc *document, pieces []piece) []piece {
	if len(pieces) == 0 {
		return nil
	}

	out := make([]piece, 0, len(pieces))
	acc := pieces[0]
	accPrimary := acc
	for _, next := range pieces[1:] {
		undersized := doc.size(acc.start, acc.end) < c.opts.MinSize ||
			doc.size(next.start, next.end) < c.opts.MinSize
		if undersized && doc.size(acc.start, next.end) <= c.opts.MaxSize {
			if significance(doc, next) > significance(doc, accPrimary) {
				accPrimary = next
			}
			acc.end = next.end
			acc.kind, acc.name = accPrimary.kind, accPrimary.name
			continue
		}
		out = append(out, acc)
		acc, accPrimary = next, next
	}
	return append(out, acc)
}

// significance ranks pieces for naming a merged chunk: definitions beat
// statements, larger beats smaller.
func significance(doc *document, p piece) int {
	size := doc.size(p.start, p.end)
	switch p.kind {
	case types.ConceptFunction, types.ConceptMethod, types.ConceptClass:
		return size + 1<<30
	}
	return size
}

func (c *Chunker) newChunk(file File, doc *document, p piece, created time.Time) *types.Chunk {
	kind := p.kind.ChunkKind()
	if kind == types.ChunkFile && file.Language == types.LangMarkdown {
		kind = types.ChunkDocumentation
	}
	name := p.name
	if name == "" {
		name = filepath.Base(file.Path)
	}

	chunk := &types.Chunk{
		Symbol:    name,
		Kind:      kind,
		FilePath:  file.Path,
		StartLine: p.start,
		EndLine:   p.end,
		Language:  file.Language,
		Content:   doc.text(p.start, p.end),
		Tier:      file.Tier,
		CreatedAt: created,
	}
	if chunk.Tier == "" {
		chunk.Tier = types.TierProject
	}
	chunk.ComputeContentHash()
	chunk.ComputeID()
	return chunk
}

// normalize clamps concepts to [lo, hi], orders them and folds overlaps so the
// result is a sequence of disjoint pieces.
func normalize(concepts []types.Concept, lo, hi int) []piece {
	sorted := make([]types.Concept, 0, len(concepts))
	for _, c := range concepts {
		if c.EndLine < lo || c.StartLine > hi {
			continue
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartLine < sorted[j].StartLine
	})

	var out []piece
	for _, c := range sorted {
		start, end := max(c.StartLine, lo), min(c.EndLine, hi)
		if end < start {
			end = start
		}
		if n := len(out); n > 0 && start <= out[n-1].end {
			last := &out[n-1]
			last.end = max(last.end, end)
			last.children = append(last.children, c.Children...)
			continue
		}
		out = append(out, piece{kind: c.Kind, name: c.Name, start: start, end: end, children: c.Children})
	}
	return out
}

// widen stretches disjoint pieces over [lo, hi]: each piece absorbs the gap
// that follows it and the first absorbs the leading gap.
func widen(pieces []piece, lo, hi int) []piece {
	if len(pieces) == 0 {
		return nil
	}
	pieces[0].start = lo
	for i := range pieces {
		if i+1 < len(pieces) {
			pieces[i].end = pieces[i+1].start - 1
		} else {
			pieces[i].end = hi
		}
	}
	return pieces
}

// document gives O(1) character sizes of line ranges
type document struct {
	lines  []string
	prefix []int // prefix[i] = characters in lines[0:i]
}

func newDocument(text string) *document {
	lines := types.SplitLines(text)
	prefix := make([]int, len(lines)+1)
	for i, l := range lines {
		prefix[i+1] = prefix[i] + utf8.RuneCountInString(l)
	}
	return &document{lines: lines, prefix: prefix}
}

func (d *document) lineCount() int {
	return len(d.lines)
}

// size is the character length of lines start..end joined by newlines
func (d *document) size(start, end int) int {
	if end < start {
		return 0
	}
	return d.prefix[end] - d.prefix[start-1] + (end - start)
}

func (d *document) text(start, end int) string {
	return strings.Join(d.lines[start-1:end], "\n")
}

// blank reports whether lines start..end contain only whitespace
func (d *document) blank(start, end int) bool {
	for i := start; i <= end; i++ {
		if strings.TrimSpace(d.lines[i-1]) != "" {
			return false
		}
	}
	return true
}

// ClassifyTier derives a chunk tier from its path. Paths below one of the
// stdlib roots are stdlib; vendored and installed packages are dependencies.
func ClassifyTier(path string, stdlibRoots ...string) types.Tier {
	for _, root := range stdlibRoots {
		if root == "" {
			continue
		}
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return types.TierStdlib
		}
	}

	slashed := "/" + filepath.ToSlash(path)
	for _, marker := range []string{"/vendor/", "/node_modules/", "/third_party/", "/site-packages/", "/pkg/mod/"} {
		if strings.Contains(slashed, marker) {
			return types.TierDependency
		}
	}
	return types.TierProject
}
