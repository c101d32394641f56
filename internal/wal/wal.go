// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

// Package wal journals completed sessions to BadgerDB before they reach the
// relational store. A crash between session close and relational insert
// loses no data: unconfirmed entries are replayed on startup, and the
// natural-key dedup in the store makes replay of already-inserted sessions
// a no-op.
package wal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/voxtime/voxtime/internal/logging"
	"github.com/voxtime/voxtime/internal/metrics"
	"github.com/voxtime/voxtime/internal/models"
)

const (
	prefixPending = "pending:"

	// entryTTL bounds how long an unconfirmable entry can linger before
	// badger expires it. Well past any realistic outage window.
	entryTTL = 7 * 24 * time.Hour
)

// Entry is one journaled completed session.
type Entry struct {
	ID        string                   `json:"id"`
	Session   *models.CompletedSession `json:"session"`
	CreatedAt time.Time                `json:"created_at"`
	Attempts  int                      `json:"attempts"`
	LastError string                   `json:"last_error,omitempty"`
}

// Log is the badger-backed session journal.
type Log struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates or reopens the journal at dir.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	logging.Info().Str("dir", dir).Msg("Session WAL opened")
	return &Log{db: db}, nil
}

// Write journals a completed session and returns the entry ID used to
// confirm it after the relational insert succeeds.
func (l *Log) Write(ctx context.Context, s *models.CompletedSession) (string, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return "", ErrClosed
	}
	l.mu.RUnlock()

	if s == nil {
		return "", ErrNilSession
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Session:   s,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal wal entry: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data).WithTTL(entryTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write wal entry: %w", err)
	}

	metrics.WALEntries.WithLabelValues("written").Inc()
	return entry.ID, nil
}

// Confirm removes a journaled entry after its session reached the
// relational store.
func (l *Log) Confirm(ctx context.Context, entryID string) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	l.mu.RUnlock()

	if entryID == "" {
		return ErrEmptyEntryID
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + entryID)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return ErrEntryNotFound
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}

	metrics.WALEntries.WithLabelValues("confirmed").Inc()
	return nil
}

// Pending returns all unconfirmed entries, oldest first.
func (l *Log) Pending(ctx context.Context) ([]*Entry, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	l.mu.RUnlock()

	var entries []*Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).
					Str("key", string(it.Item().Key())).
					Msg("Skipping corrupt WAL entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan wal: %w", err)
	}

	sortEntriesByAge(entries)
	return entries, nil
}

// recordAttempt persists an attempt failure so operators can see why an
// entry keeps failing.
func (l *Log) recordAttempt(entryID string, attemptErr error) {
	err := l.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPending + entryID)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		entry.Attempts++
		entry.LastError = attemptErr.Error()
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		e := badger.NewEntry(key, data).WithTTL(entryTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		logging.Debug().Err(err).Str("entry_id", entryID).
			Msg("Failed to record WAL attempt")
	}
}

// Close shuts the journal down.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	return l.db.Close()
}

// sortEntriesByAge orders entries oldest first so replay preserves rough
// arrival order.
func sortEntriesByAge(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
