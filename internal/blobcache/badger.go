// Package blobcache stores provider-native raw payloads in BadgerDB so that
// rate-limited provider APIs are not re-hit for data already captured once.
package blobcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"example.com/biosync/internal/domain"
)

const blobKeyPrefix = "blob:"

// Open opens (or creates) the cache database at dir. Badger's own logger is
// silenced; the cache surfaces errors through return values.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blob cache: %w", err)
	}
	return db, nil
}

// Cache implements domain.ObjectCache on BadgerDB.
type Cache struct {
	db *badger.DB
}

// New constructs a Cache over an open Badger database.
func New(db *badger.DB) *Cache {
	return &Cache{db: db}
}

// envelope is the stored form of a blob. Body stays provider-native.
type envelope struct {
	SubjectID  string          `json:"subject_id"`
	Source     string          `json:"source"`
	Date       string          `json:"date"`
	CapturedAt time.Time       `json:"captured_at"`
	Body       json.RawMessage `json:"body"`
}

// Put writes the blob, overwriting any previous capture for the same key.
func (c *Cache) Put(ctx context.Context, blob domain.RawBlob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(envelope{
		SubjectID:  blob.SubjectID,
		Source:     string(blob.Source),
		Date:       blob.Date.String(),
		CapturedAt: blob.CapturedAt.UTC(),
		Body:       json.RawMessage(blob.Body),
	})
	if err != nil {
		return fmt.Errorf("marshal blob: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobKeyPrefix+blob.Key()), data)
	})
}

// Get returns the cached blob or (nil, nil) on a miss.
func (c *Cache) Get(ctx context.Context, subjectID string, source domain.Source, date domain.Date) (*domain.RawBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var env envelope
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(subjectID, source, date))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}

	d, err := domain.ParseDate(env.Date)
	if err != nil {
		return nil, fmt.Errorf("corrupt blob envelope: %w", err)
	}

	return &domain.RawBlob{
		SubjectID:  env.SubjectID,
		Source:     domain.Source(env.Source),
		Date:       d,
		CapturedAt: env.CapturedAt,
		Body:       []byte(env.Body),
	}, nil
}

// Has reports key presence without decoding the stored envelope.
func (c *Cache) Has(ctx context.Context, subjectID string, source domain.Source, date domain.Date) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(subjectID, source, date))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe blob: %w", err)
	}
	return true, nil
}

// DeleteSubject removes every cached blob for the subject, used by the
// subject-deletion cascade.
func (c *Cache) DeleteSubject(ctx context.Context, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := []byte(blobKeyPrefix + subjectID + "/")
	return c.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func key(subjectID string, source domain.Source, date domain.Date) []byte {
	return []byte(blobKeyPrefix + subjectID + "/" + string(source) + "/" + date.String())
}
