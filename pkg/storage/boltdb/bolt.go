// Package boltdb provides a durable storage.Backend on top of bbolt. It backs
// the "local" storage option.
package boltdb

import (
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-statesync/pkg/storage"
	bolt "go.etcd.io/bbolt"
)

// DefaultBucket holds records when Config.Bucket is empty.
const DefaultBucket = "statesync"

// Config configures Open.
type Config struct {
	Path    string
	Bucket  string
	Timeout time.Duration
}

var _ storage.Backend = (*Backend)(nil)

// Backend stores each record as one key in a single bbolt bucket.
type Backend struct {
	db     *bolt.DB
	bucket []byte
}

// Open opens (creating if needed) the database at config.Path and ensures the
// bucket exists.
func Open(config Config) (*Backend, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("boltdb: path is required")
	}
	bucket := config.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %s: %w", config.Path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("boltdb: ensure bucket %q: %w", bucket, err)
	}

	return &Backend{db: db, bucket: []byte(bucket)}, nil
}

// Path returns the database file path.
func (b *Backend) Path() string {
	return b.db.Path()
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Delete closes the database and removes its file.
func (b *Backend) Delete() error {
	path := b.db.Path()
	if err := b.Close(); err != nil {
		return fmt.Errorf("boltdb: close: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("boltdb: remove %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Get(key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(b.bucket).Get([]byte(key))
		if value == nil {
			return nil
		}
		found = true
		// bbolt values are only valid for the life of the transaction.
		out = make([]byte, len(value))
		copy(out, value)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltdb: get %q: %w", key, err)
	}
	return out, found, nil
}

func (b *Backend) Set(key string, raw []byte) error {
	if raw == nil {
		raw = []byte{}
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("boltdb: set %q: %w", key, err)
	}
	return nil
}

func (b *Backend) Remove(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("boltdb: remove %q: %w", key, err)
	}
	return nil
}

func (b *Backend) Clear() error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("boltdb: clear: %w", err)
	}
	return nil
}

func (b *Backend) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(b.bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltdb: len: %w", err)
	}
	return n, nil
}

// Key walks the bucket cursor in byte order.
func (b *Backend) Key(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	var key string
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(b.bucket).Cursor()
		i := 0
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if i == index {
				key = string(k)
				found = true
				return nil
			}
			i++
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("boltdb: key %d: %w", index, err)
	}
	return key, found, nil
}
