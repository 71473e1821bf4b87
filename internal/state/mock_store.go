package state

import (
	"fmt"
	"sync"

	"github.com/TheMichaelB/ofsync/internal/models"
)

// MockStore provides an in-memory TrackingStore for testing.
type MockStore struct {
	mu     sync.RWMutex
	stores map[string]models.FileRecords

	// Injected failures, keyed by operation ("initialize", "load", "save", "delete").
	failures map[string]error
}

// NewMockStore creates a mock tracking store.
func NewMockStore() *MockStore {
	return &MockStore{
		stores:   make(map[string]models.FileRecords),
		failures: make(map[string]error),
	}
}

// FileName returns the default SQLite file name.
func (m *MockStore) FileName() string {
	return SQLiteFileName
}

// Initialize creates an empty record set if absent.
func (m *MockStore) Initialize(storePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures["initialize"]; err != nil {
		return storeErr("initialize", storePath, err)
	}
	if _, ok := m.stores[storePath]; !ok {
		m.stores[storePath] = make(models.FileRecords)
	}
	return nil
}

// Load returns a copy of the stored records.
func (m *MockStore) Load(storePath string) (models.FileRecords, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failures["load"]; err != nil {
		return nil, storeErr("load", storePath, err)
	}
	records, ok := m.stores[storePath]
	if !ok {
		return nil, fmt.Errorf("%s: %w", storePath, ErrStoreNotFound)
	}
	// Return a copy to avoid aliasing between caller and store
	return records.Clone(), nil
}

// Save stores a copy of records.
func (m *MockStore) Save(storePath string, records models.FileRecords) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures["save"]; err != nil {
		return storeErr("save", storePath, err)
	}
	if err := validateRecords(records); err != nil {
		return storeErr("save", storePath, err)
	}
	if _, ok := m.stores[storePath]; !ok {
		return fmt.Errorf("%s: %w", storePath, ErrStoreNotFound)
	}
	m.stores[storePath] = records.Clone()
	return nil
}

// Delete drops the record set.
func (m *MockStore) Delete(storePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures["delete"]; err != nil {
		return storeErr("delete", storePath, err)
	}
	delete(m.stores, storePath)
	return nil
}

// Helper methods for testing

// Fail makes every subsequent call of op return err; nil clears it.
func (m *MockStore) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Has reports whether a store exists at storePath.
func (m *MockStore) Has(storePath string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[storePath]
	return ok
}
