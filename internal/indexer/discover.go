package indexer

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dshills/codeintel/pkg/types"
)

// sniffSize is how much of a file is inspected for NUL bytes
const sniffSize = 8000

// skippedDirs are never descended into unless vendored code is included
var skippedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
}

// discoverFiles walks root and returns the absolute paths of indexable files
// in walk order.
func (idx *Indexer) discoverFiles(ctx context.Context, root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			idx.logger.Debug("skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p == root {
				return nil
			}
			if idx.skipDir(d.Name()) || idx.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks, sockets and devices
		if !d.Type().IsRegular() {
			return nil
		}
		if !idx.wantedExtension(p) || idx.excluded(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 || info.Size() > idx.cfg.MaxFileSize {
			return nil
		}
		if isBinaryFile(p) {
			return nil
		}

		files = append(files, p)
		return nil
	})

	return files, err
}

// skipDir reports whether a directory is pruned from the walk. Hidden
// directories (.git and the index directory among them) are always skipped.
func (idx *Indexer) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return !idx.cfg.IncludeVendor && skippedDirs[name]
}

// excluded matches rel, a slash-separated path relative to the root, against
// the exclude patterns: whole path first, then each segment.
func (idx *Indexer) excluded(rel string) bool {
	if len(idx.cfg.ExcludePatterns) == 0 {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, pattern := range idx.cfg.ExcludePatterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for _, seg := range segments {
			if ok, _ := path.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}

func (idx *Indexer) wantedExtension(p string) bool {
	if types.KnownExtension(p) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(p))
	return ext != "" && idx.extraExt[ext]
}

// isBinaryFile reports whether the head of the file contains a NUL byte.
// Unreadable files count as binary so they are left alone.
func isBinaryFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return true
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
