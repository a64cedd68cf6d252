// Package chunker turns a file's concepts into its final chunk list.
//
// Chunk sizes are measured in characters of chunk text. The algorithm:
//
//  1. Top-level concepts are widened so they partition the file: each absorbs
//     the blank lines and comments that follow it, and the first absorbs any
//     leading lines.
//  2. A piece within [MinSize, MaxSize] is its own chunk. A piece above
//     MaxSize is split along its nested concepts; the parent text
//     between nested concepts becomes fragments of the parent. A piece with no
//     nested concepts is cut into greedy line windows. A single line above
//     MaxSize cannot be divided and passes through as an oversized chunk.
//  3. Pieces below MinSize are merged left to right with their neighbours
//     while the merged text stays within MaxSize; a group closes at the
//     boundary that would exceed it. A line window tail below MinSize borrows
//     lines from the window before it.
//
// # Basic Usage
//
//	c := chunker.New(chunker.Options{MaxSize: 1200, MinSize: 50})
//	result := p.ParseFile(ctx, path, src)
//	chunks := c.ChunkFile(chunker.File{Path: path, Content: src, Language: result.Language}, result.Concepts)
//
// Chunk IDs hash the path, line range and text, so re-chunking unchanged
// content yields the same IDs.
package chunker
