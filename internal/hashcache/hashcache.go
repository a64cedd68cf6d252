// Package hashcache remembers the content hash each source file had when it
// was last indexed, plus repeated failures, in a badger database.
package hashcache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/dshills/codeintel/internal/logging"
)

const filePrefix = "file:"

// Entry is what the cache knows about one file
type Entry struct {
	Hash      string // Hash of the last successfully indexed content
	Size      int64
	ModTime   time.Time
	IndexedAt time.Time

	FailedHash string // Hash of the content that last failed
	Failures   int    // Consecutive failures for FailedHash
}

// Unchanged reports whether hash matches the last indexed content
func (e Entry) Unchanged(hash string) bool {
	return e.Hash != "" && e.Hash == hash
}

// FailuresFor returns the recorded failure count for content with hash
func (e Entry) FailuresFor(hash string) int {
	if e.FailedHash != hash {
		return 0
	}
	return e.Failures
}

// Cache is a persistent path -> Entry map
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens or creates the cache in dir
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create hash cache dir: %w", err)
	}
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a cache that lives only as long as the process
func OpenInMemory(logger *slog.Logger) (*Cache, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Cache, error) {
	logger = logging.OrDiscard(logger).With("component", "hashcache")
	opts.Logger = &logging.BadgerAdapter{Logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open hash cache: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}

func key(path string) []byte {
	return []byte(filePrefix + path)
}

// Get returns the entry for path. ok is false when the path is unknown.
func (c *Cache) Get(path string) (entry Entry, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = unmarshalEntry(val)
			if err != nil {
				return fmt.Errorf("decode entry for %s: %w", path, err)
			}
			ok = true
			return nil
		})
	})
	return entry, ok, err
}

// Put records a successful index of path. Any failure history is cleared.
func (c *Cache) Put(path string, entry Entry) error {
	entry.FailedHash = ""
	entry.Failures = 0
	if entry.IndexedAt.IsZero() {
		entry.IndexedAt = time.Now()
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(path), marshalEntry(entry))
	})
}

// RecordFailure counts a failed attempt to index path at content hash and
// returns the failure count for that hash. A different hash restarts the
// count.
func (c *Cache) RecordFailure(path, hash string) (int, error) {
	var failures int
	err := c.db.Update(func(txn *badger.Txn) error {
		var entry Entry
		item, err := txn.Get(key(path))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				entry, err = unmarshalEntry(val)
				return err
			}); err != nil {
				return fmt.Errorf("decode entry for %s: %w", path, err)
			}
		}

		if entry.FailedHash != hash {
			entry.FailedHash = hash
			entry.Failures = 0
		}
		entry.Failures++
		failures = entry.Failures
		return txn.Set(key(path), marshalEntry(entry))
	})
	if err != nil {
		return 0, err
	}
	c.logger.Debug("recorded failure", "path", path, "failures", failures)
	return failures, nil
}

// Delete forgets path
func (c *Cache) Delete(path string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(path))
	})
}

// Paths returns every known path in key order
func (c *Cache) Paths() ([]string, error) {
	var paths []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(filePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(filePrefix):]))
		}
		return nil
	})
	return paths, err
}

// Len returns the number of known paths
func (c *Cache) Len() (int, error) {
	paths, err := c.Paths()
	return len(paths), err
}
