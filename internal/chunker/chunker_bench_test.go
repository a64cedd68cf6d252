package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/dshills/codeintel/internal/parser"
	"github.com/dshills/codeintel/pkg/types"
)

func BenchmarkChunkFile(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("package bench\n\n")
	for i := range 40 {
		sb.WriteString(function("Handler"+strings.Repeat("x", i%5)+string(rune('A'+i%26)), 200+i*40))
		sb.WriteString("\n\n")
	}
	src := []byte(sb.String())

	result := parser.New().ParseFile(context.Background(), "/bench/handlers.go", src)
	c := New(DefaultOptions())
	file := File{Path: "/bench/handlers.go", Content: src, Language: types.LangGo, Tier: types.TierProject}

	for b.Loop() {
		if len(c.ChunkFile(file, result.Concepts)) == 0 {
			b.Fatal("no chunks")
		}
	}
}
