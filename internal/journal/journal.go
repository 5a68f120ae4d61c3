// Package journal keeps the most recent published events on disk so a
// controller can replay what it missed.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const eventBucketName = "events"

// Journal is an index-ordered store of encoded envelopes.
type Journal struct {
	db        *bolt.DB
	retention int
}

// Entry is one journaled envelope.
type Entry struct {
	Index uint64
	Data  []byte
}

// Page is the result of a replay query.
type Page struct {
	Entries    []Entry
	LastIndex  uint64
	OldestKept uint64
	Truncated  bool
}

// Open opens or creates the journal at path. retention bounds the number of
// kept events; zero keeps everything.
func Open(path string, retention int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventBucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Journal{db: db, retention: retention}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Reset drops every entry. Event indices restart with each engine run, so the
// journal is reset alongside them.
func (j *Journal) Reset() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(eventBucketName)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(eventBucketName))
		return err
	})
}

// Append stores data under index and prunes entries older than the last
// retention indices. Indices are expected to increase.
func (j *Journal) Append(index uint64, data []byte) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventBucketName))
		if err := b.Put(key(index), data); err != nil {
			return err
		}
		if j.retention <= 0 || index < uint64(j.retention) {
			return nil
		}
		cutoff := index - uint64(j.retention) + 1
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) < cutoff; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Since returns up to limit entries with an index greater than since, in
// index order. limit <= 0 returns everything.
func (j *Journal) Since(since uint64, limit int) (Page, error) {
	var page Page
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(eventBucketName)).Cursor()
		if k, _ := c.First(); k != nil {
			page.OldestKept = binary.BigEndian.Uint64(k)
		}
		if k, _ := c.Last(); k != nil {
			page.LastIndex = binary.BigEndian.Uint64(k)
		}
		for k, v := c.Seek(key(since + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(page.Entries) >= limit {
				page.Truncated = true
				break
			}
			// bbolt values are only valid for the life of the transaction.
			data := make([]byte, len(v))
			copy(data, v)
			page.Entries = append(page.Entries, Entry{Index: binary.BigEndian.Uint64(k), Data: data})
		}
		return nil
	})
	return page, err
}

// Len returns the number of kept entries.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(eventBucketName)).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func key(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}
