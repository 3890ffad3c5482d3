package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCatalog = []byte("catalog")
	keyRecords    = []byte("records")
	keySavedAt    = []byte("saved_at")
)

// ErrNoCache is returned by Load when nothing has been saved yet.
var ErrNoCache = errors.New("no cached catalog")

// Cache persists the last good catalog so a run with every mirror down can
// still list releases.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCatalog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Save replaces the cached catalog with records.
func (c *Cache) Save(records []GameRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	stamp, err := time.Now().UTC().MarshalText()
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		if err := b.Put(keyRecords, data); err != nil {
			return err
		}
		return b.Put(keySavedAt, stamp)
	})
}

// Load returns the cached records and when they were saved.
func (c *Cache) Load() ([]GameRecord, time.Time, error) {
	var (
		records []GameRecord
		savedAt time.Time
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		data := b.Get(keyRecords)
		if data == nil {
			return ErrNoCache
		}
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("decode cached catalog: %w", err)
		}
		if stamp := b.Get(keySavedAt); stamp != nil {
			if err := savedAt.UnmarshalText(stamp); err != nil {
				return fmt.Errorf("decode cache timestamp: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return records, savedAt, nil
}

// Close releases the database file lock.
func (c *Cache) Close() error {
	return c.db.Close()
}
