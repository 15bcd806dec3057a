// Package memory is a fixed, in-memory subscriber directory seeded with
// a handful of demo subscribers.
package memory

import (
	"context"
	"sync"

	"telecomrouter/internal/subscriber"
)

// Store is a fixed, in-memory subscriber directory.
type Store struct {
	mu sync.RWMutex
	db map[string]subscriber.Record
}

// New returns a store seeded with three demo subscribers.
func New() *Store {
	return &Store{db: map[string]subscriber.Record{
		"+14085551234":  {IMSI: "310150123456789", ServingSwitch: "MSC_DALLAS_01", ServingRegister: "VLR_DAL_01", RegionTag: "US-SOUTH"},
		"+12125550123":  {IMSI: "310150987654321", ServingSwitch: "MSC_NYC_01", ServingRegister: "VLR_NYC_01", RegionTag: "US-EAST"},
		"+442079460123": {IMSI: "234150111222333", ServingSwitch: "MSC_LON_01", ServingRegister: "VLR_LON_01", RegionTag: "UK"},
	}}
}

// Lookup implements subscriber.Store.
func (s *Store) Lookup(_ context.Context, msisdn string) (subscriber.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.db[msisdn]
	return rec, ok, nil
}

// Put adds or replaces a subscriber record. Tests use it to add
// subscribers beyond the seeded three.
func (s *Store) Put(msisdn string, rec subscriber.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db[msisdn] = rec
}
