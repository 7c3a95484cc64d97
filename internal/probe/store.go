// SPDX-License-Identifier: MIT

// Package probe persists analyzer results per stream id so cached
// stats survive restarts and feed immunity checks and rescoring.
package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/streamwarden/internal/model"
	badger "github.com/dgraph-io/badger/v4"
)

const keyPrefix = "probe:"

// Store wraps a badger database. Values are JSON-encoded ProbeResults
// keyed by stream id.
type Store struct {
	db *badger.DB
}

// Open creates or reopens the store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open probe store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory backs the store with memory only. Used in tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory probe store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the result for a stream, replacing any previous one.
func (s *Store) Put(streamID int64, r model.ProbeResult) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode probe result: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(streamID), val)
	})
}

// Get returns the stored result and whether one exists.
func (s *Store) Get(streamID int64) (model.ProbeResult, bool, error) {
	var (
		r     model.ProbeResult
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(streamID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	return r, found, err
}

// GetMany loads results for the given ids in one transaction. Missing
// ids are simply absent from the map.
func (s *Store) GetMany(ids []int64) (map[int64]model.ProbeResult, error) {
	out := make(map[int64]model.ProbeResult, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(key(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var r model.ProbeResult
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out[id] = r
		}
		return nil
	})
	return out, err
}

// Delete removes a stream's result. Deleting an absent id is fine.
func (s *Store) Delete(streamID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(streamID))
	})
}

// ForEach visits every stored result. Returning an error from fn
// stops the scan.
func (s *Store) ForEach(fn func(streamID int64, r model.ProbeResult) error) error {
	prefix := []byte(keyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id, err := streamIDFromKey(item.Key())
			if err != nil {
				continue
			}
			var r model.ProbeResult
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if err := fn(id, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of stored results.
func (s *Store) Count() (int, error) {
	n := 0
	prefix := []byte(keyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func key(streamID int64) []byte {
	return []byte(keyPrefix + strconv.FormatInt(streamID, 10))
}

func streamIDFromKey(k []byte) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(string(k), keyPrefix), 10, 64)
}
