package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"

	"deepresearch.app/core/internal/research"
)

// Index is the embedded, file-backed metadata index backing cheap
// Store.List and Store.Get-adjacent lookups without parsing full session
// content blobs.
type Index struct {
	db *badger.DB
}

// OpenIndex opens (creating if absent) the Badger database at dir.
func OpenIndex(dir string) (*Index, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening session index: %w", err)
	}
	return &Index{db: db}, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

func metaKey(sessionID int64) []byte {
	return []byte("session-meta:" + strconv.FormatInt(sessionID, 10))
}

// Put upserts a session's metadata projection.
func (idx *Index) Put(ctx context.Context, meta research.SessionMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}
	return idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.SessionID), raw)
	})
}

// Get returns one session's metadata projection.
func (idx *Index) Get(ctx context.Context, sessionID int64) (research.SessionMeta, error) {
	var meta research.SessionMeta
	err := idx.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(sessionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return research.ErrSessionNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return research.SessionMeta{}, err
	}
	return meta, nil
}

// Delete removes a session's metadata projection; idempotent.
func (idx *Index) Delete(ctx context.Context, sessionID int64) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(metaKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// List returns every indexed session's metadata projection, unsorted — the
// Store applies filtering, sorting, and pagination.
func (idx *Index) List(ctx context.Context) ([]research.SessionMeta, error) {
	var all []research.SessionMeta
	err := idx.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("session-meta:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var meta research.SessionMeta
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			all = append(all, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing session index: %w", err)
	}
	return all, nil
}
