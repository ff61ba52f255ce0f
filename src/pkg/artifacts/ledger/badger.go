package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("ledger entry not found")

const keyPrefix = "artifact/"

type BadgerLedger struct {
	db *badger.DB
}

func NewBadgerLedger(path string) (*BadgerLedger, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	return &BadgerLedger{db: db}, nil
}

func key(artifactID string) []byte {
	return []byte(keyPrefix + artifactID)
}

func (l *BadgerLedger) Put(entry Entry) error {
	if entry.ArtifactID == "" {
		return errors.New("artifact id must be set")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(entry.ArtifactID), data)
	})
}

func (l *BadgerLedger) Get(artifactID string) (*Entry, error) {
	var entry Entry
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(artifactID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete of an unknown id succeeds.
func (l *BadgerLedger) Delete(artifactID string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(artifactID))
	})
}

func (l *BadgerLedger) List() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("corrupt ledger entry %q: %w", it.Item().Key(), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func (l *BadgerLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
