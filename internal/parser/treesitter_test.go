//go:build cgo

package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeintel/pkg/types"
)

func TestParseFile_Python(t *testing.T) {
	src := `import os
from typing import List


class Repo:
    def __init__(self, root):
        self.root = root

    def files(self) -> List[str]:
        return os.listdir(self.root)


def main():
    repo = Repo(".")
    print(repo.files())
`
	result := New().ParseFile(context.Background(), "app.py", []byte(src))
	require.False(t, result.Fallback)

	require.Len(t, result.Concepts, 4)
	assert.Equal(t, types.ConceptImport, result.Concepts[0].Kind)
	assert.Equal(t, types.ConceptImport, result.Concepts[1].Kind)

	repo := result.Concepts[2]
	assert.Equal(t, types.ConceptClass, repo.Kind)
	assert.Equal(t, "Repo", repo.Name)
	assert.Equal(t, 5, repo.StartLine)
	assert.Equal(t, 10, repo.EndLine)
	require.Len(t, repo.Children, 2)
	assert.Equal(t, types.ConceptMethod, repo.Children[0].Kind)
	assert.Equal(t, "__init__", repo.Children[0].Name)
	assert.Equal(t, "files", repo.Children[1].Name)

	assert.Equal(t, types.ConceptFunction, result.Concepts[3].Kind)
	assert.Equal(t, "main", result.Concepts[3].Name)
}

func TestParseFile_JavaScriptExports(t *testing.T) {
	src := `import { load } from './loader';

export function start() {
  return load();
}

export const stop = () => {
  return null;
};

class Worker {
  run() {
    start();
  }
}
`
	result := New().ParseFile(context.Background(), "index.js", []byte(src))
	require.Len(t, result.Concepts, 4)

	assert.Equal(t, types.ConceptImport, result.Concepts[0].Kind)
	assert.Equal(t, types.ConceptFunction, result.Concepts[1].Kind)
	assert.Equal(t, "start", result.Concepts[1].Name)
	assert.Equal(t, types.ConceptFunction, result.Concepts[2].Kind)
	assert.Equal(t, "stop", result.Concepts[2].Name)

	worker := result.Concepts[3]
	assert.Equal(t, types.ConceptClass, worker.Kind)
	require.Len(t, worker.Children, 1)
	assert.Equal(t, types.ConceptMethod, worker.Children[0].Kind)
	assert.Equal(t, "run", worker.Children[0].Name)
}

func TestParseFile_RustImpl(t *testing.T) {
	src := `use std::collections::HashMap;

struct Cache {
    items: HashMap<String, u32>,
}

impl Cache {
    fn get(&self, key: &str) -> Option<&u32> {
        self.items.get(key)
    }
}
`
	result := New().ParseFile(context.Background(), "cache.rs", []byte(src))
	require.Len(t, result.Concepts, 3)

	impl := result.Concepts[2]
	assert.Equal(t, types.ConceptClass, impl.Kind)
	assert.Equal(t, "Cache", impl.Name)
	require.Len(t, impl.Children, 1)
	assert.Equal(t, types.ConceptMethod, impl.Children[0].Kind)
	assert.Equal(t, "get", impl.Children[0].Name)
}

func TestParseFile_TypeScriptInterface(t *testing.T) {
	src := `interface Shape {
  area(): number;
}

type Id = string;
`
	result := New().ParseFile(context.Background(), "shape.ts", []byte(src))
	require.Len(t, result.Concepts, 2)
	assert.Equal(t, types.ConceptClass, result.Concepts[0].Kind)
	assert.Equal(t, "Shape", result.Concepts[0].Name)
	assert.Equal(t, "Id", result.Concepts[1].Name)
}

func TestExtractEntities_Python(t *testing.T) {
	chunk := `from storage.backend import Backend

def sync(items):
    backend = Backend(path)
    backend.write_all(items)
    print(len(items))
`
	entities := New().ExtractEntities(context.Background(), "py", []byte(chunk), types.LangPython)

	kinds := make(map[string]types.EntityKind)
	for _, e := range entities {
		if _, ok := kinds[e.Name]; !ok {
			kinds[e.Name] = e.Kind
		}
	}
	assert.Equal(t, types.EntityImport, kinds["backend"])
	assert.Equal(t, types.EntityImport, kinds["Backend"])
	assert.Equal(t, types.EntityCall, kinds["write_all"])
	assert.NotContains(t, kinds, "print")
	assert.NotContains(t, kinds, "len")
}

func TestExtractEntities_Java(t *testing.T) {
	chunk := `import java.util.List;

class Service {
    void run(Repository repo) {
        repo.save(new Record());
    }
}
`
	entities := New().ExtractEntities(context.Background(), "j", []byte(chunk), types.LangJava)

	names := make(map[string]bool)
	for _, e := range entities {
		names[e.Name] = true
	}
	assert.True(t, names["List"])
	assert.True(t, names["Repository"])
	assert.True(t, names["save"])
	assert.True(t, names["Record"])
}
