// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianOncall/services/copilot"
)

// casePrefix namespaces case documents in the keyspace.
const casePrefix = "case:"

// BadgerConfig holds configuration for the embedded case store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory
	// is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for database operations. If nil, badger's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns configuration for testing.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists cases as JSON documents in an embedded BadgerDB.
//
// Thread Safety: safe for concurrent use; badger transactions provide
// per-key atomicity.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the case store.
//
// Inputs:
//
//	cfg - Path is required unless InMemory is true; the directory is
//	      created if missing.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close().
//	error - Non-nil when the path is invalid or the database cannot open.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open case store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// caseKey builds the storage key for a case id.
func caseKey(id string) []byte {
	return []byte(casePrefix + id)
}

// Load returns the case with the given id.
func (s *BadgerStore) Load(_ context.Context, caseID string) (*copilot.Case, error) {
	var cs copilot.Case
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(caseKey(caseID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, caseID)
			}
			return fmt.Errorf("get case %s: %w", caseID, err)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &cs); err != nil {
				return fmt.Errorf("decode case %s: %w", caseID, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// Save writes the full case document.
func (s *BadgerStore) Save(_ context.Context, cs *copilot.Case) error {
	if cs.ID == "" {
		return errors.New("case id is required")
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encode case %s: %w", cs.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(caseKey(cs.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save case %s: %w", cs.ID, err)
	}
	return nil
}

// List returns the ids of all stored cases.
func (s *BadgerStore) List(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(casePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return ids, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
