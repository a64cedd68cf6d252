package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/codeintel/pkg/types"
)

const (
	manifestName    = "manifest.json"
	manifestVersion = 1
	hashesDirName   = "hashes"
)

// Manifest names the current generation's files and the embedder that
// produced its vectors.
type Manifest struct {
	Version    int       `json:"version"`
	Generation uint64    `json:"generation"`
	MetaFile   string    `json:"meta_file"`
	VectorFile string    `json:"vector_file"`
	Embedder   string    `json:"embedder"`
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func metaFileName(gen uint64) string {
	return fmt.Sprintf("meta-%d.db", gen)
}

func vectorFileName(gen uint64) string {
	return fmt.Sprintf("vectors-%d.hnsw", gen)
}

// HashesDir returns the hash cache directory inside an index directory
func HashesDir(dir string) string {
	return filepath.Join(dir, hashesDirName)
}

// Exists reports whether dir holds an index manifest
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestName))
	return err == nil
}

// readManifest loads dir's manifest. A missing directory or manifest is
// ErrIndexNotInitialized; anything unreadable is ErrIndexCorrupted.
func readManifest(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", types.ErrIndexNotInitialized, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("stat index dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrIndexCorrupted, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no manifest in %s", types.ErrIndexNotInitialized, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", types.ErrIndexCorrupted, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", types.ErrIndexCorrupted, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIndexCorrupted, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	switch {
	case m.Version != manifestVersion:
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	case m.Generation == 0:
		return errors.New("manifest has no generation")
	case m.MetaFile != metaFileName(m.Generation) || m.VectorFile != vectorFileName(m.Generation):
		return fmt.Errorf("manifest file names do not match generation %d", m.Generation)
	case m.Dimension <= 0:
		return fmt.Errorf("invalid dimension %d", m.Dimension)
	}
	return nil
}

// writeManifest replaces dir's manifest atomically
func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, manifestName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, manifestName)); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
