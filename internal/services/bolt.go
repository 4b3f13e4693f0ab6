package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the agent.Store interface using a BoltDB backend. Every thread is checkpointed
// as a single JSON document keyed by its ID, so a thread survives restarts of the backend including
// a pending human review.
type BoltDB struct {
	db *bolt.DB
}

var threadsBucket = []byte("threads")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(threadsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create threads bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// AddThread stores a new thread. It fails if a thread with the same ID already exists.
func (b BoltDB) AddThread(_ context.Context, thread models.Thread) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(threadsBucket)
		if bk.Get([]byte(thread.ID)) != nil {
			return fmt.Errorf("thread %s already exists", thread.ID)
		}
		return putThread(bk, thread)
	})
}

// Thread retrieves the thread with the given ID. The boolean result reports whether it was found.
func (b BoltDB) Thread(_ context.Context, threadID string) (models.Thread, bool, error) {
	var thread models.Thread
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(threadsBucket).Get([]byte(threadID))
		if v == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(v, &thread); err != nil {
			return fmt.Errorf("failed to unmarshal thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Thread{}, false, err
	}
	return thread, found, nil
}

// UpdateThread overwrites an existing thread checkpoint. If the thread doesn't exist, the operation
// is silently ignored.
func (b BoltDB) UpdateThread(_ context.Context, thread models.Thread) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(threadsBucket)
		if bk.Get([]byte(thread.ID)) == nil {
			return nil
		}
		return putThread(bk, thread)
	})
}

func putThread(bk *bolt.Bucket, thread models.Thread) error {
	v, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}
	return bk.Put([]byte(thread.ID), v)
}
