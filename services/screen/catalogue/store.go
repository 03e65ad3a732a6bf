// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalogue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a catalogue store.
type Config struct {
	// Path is the directory for the store's files.
	// Required unless InMemory is true.
	Path string

	// InMemory keeps the store in RAM only. Used for tests and for
	// single-shot runs over small imported catalogues.
	InMemory bool

	// SyncWrites enables synchronous writes. Imports are faster without;
	// the catalogue is rebuilt from source on corruption either way.
	SyncWrites bool

	// Logger receives the store's operational logs. If nil, the embedded
	// database's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration for an on-disk catalogue.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// InMemoryConfig returns the configuration for a RAM-only catalogue.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is the candidate catalogue.
//
// Thread Safety: safe for concurrent use; the underlying database handles
// its own transaction isolation.
type Store struct {
	db *badger.DB
}

// Open opens a catalogue store with the given configuration.
// The caller must Close the returned store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent catalogue")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create catalogue directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&storeLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalogue store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes an entry, replacing any previous entry with the same code.
func (s *Store) Put(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := e.marshal()
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.Code), data)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrStoreClosed
	}
	return err
}

// Get returns the entry for a candidate code.
func (s *Store) Get(code string) (Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, code)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = unmarshalEntry(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return Entry{}, ErrStoreClosed
	}
	return entry, err
}

// Each calls fn for every entry in code order. Iteration stops at the
// first error from fn.
func (s *Store) Each(fn func(Entry) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				var uerr error
				entry, uerr = unmarshalEntry(val)
				return uerr
			})
			if err != nil {
				return err
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrStoreClosed
	}
	return err
}

// Len returns the number of entries in the store.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// storeLogger adapts slog.Logger to the embedded database's logger.
type storeLogger struct {
	logger *slog.Logger
}

func (l *storeLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *storeLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *storeLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *storeLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
