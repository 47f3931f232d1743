// Package storage keeps small per-session documents (cart, checkout progress,
// quote drafts) with a version token for optimistic concurrency.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Keys of the documents stored per session.
const (
	KeyCart       = "epackage-cart"
	KeyCheckout   = "epackage-checkout"
	KeyQuoteDraft = "epackage_quote_draft"
)

// AnyVersion makes Put overwrite whatever version is stored.
const AnyVersion int64 = -1

var (
	// ErrNotFound is returned when no document exists under a key.
	ErrNotFound = errors.New("storage: not found")
	// ErrVersionConflict is returned when the stored version differs from the expected one.
	ErrVersionConflict = errors.New("storage: version conflict")
)

// Entry is a stored document.
type Entry struct {
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// Store persists documents by session and key.
//
// Put writes value when the stored version equals expectedVersion (0 meaning
// "absent"), or unconditionally with AnyVersion, and returns the new version.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (Entry, error)
	Put(ctx context.Context, sessionID, key string, value []byte, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, sessionID, key string) error
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]Entry
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now, entries: make(map[string]Entry)}
}

func memoryKey(sessionID, key string) string {
	return sessionID + "\x00" + key
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, sessionID, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[memoryKey(sessionID, key)]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Value = append([]byte(nil), e.Value...)
	return e, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, sessionID, key string, value []byte, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey(sessionID, key)
	current := m.entries[k].Version
	if expectedVersion != AnyVersion && expectedVersion != current {
		return 0, ErrVersionConflict
	}

	next := current + 1
	m.entries[k] = Entry{
		Value:     append([]byte(nil), value...),
		Version:   next,
		UpdatedAt: m.now(),
	}
	return next, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, memoryKey(sessionID, key))
	return nil
}
