// Package health implements the §6 health endpoint: an HTTP surface
// reporting sensor health, API quota usage and calibration readiness, plus
// a badger-backed persistence layer so per-sensor health state (consecutive
// failures, disabled flag, last success/error) survives a process restart
// instead of being re-derived from an empty Monitor, grounded on the
// teacher pack's badger identity-store pattern
// (Silberengel-next.orly.dev/pkg/database/identity.go).
package health

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
	"github.com/amois3/matrixwatcher/internal/sensor"
)

const healthKeyPrefix = "sensor:health:"

// Store persists sensor.HealthState snapshots in an embedded badger KV
// store, keyed by source name.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) a badger database at dir.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("health: open badger store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Persist writes source's current health state.
func (s *Store) Persist(source string, state sensor.HealthState) error {
	data, err := jsonutil.Marshal(state)
	if err != nil {
		return fmt.Errorf("health: marshal state for %s: %w", source, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(healthKeyPrefix+source), data)
	})
}

// LoadAll returns every persisted sensor's health state, for seeding a
// freshly constructed sensor.Monitor via Monitor.Restore.
func (s *Store) LoadAll() (map[string]sensor.HealthState, error) {
	out := map[string]sensor.HealthState{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(healthKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			source := string(item.KeyCopy(nil))[len(healthKeyPrefix):]
			var state sensor.HealthState
			if err := item.Value(func(val []byte) error {
				return jsonutil.Unmarshal(val, &state)
			}); err != nil {
				return fmt.Errorf("health: decode state for %s: %w", source, err)
			}
			out[source] = state
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SyncLoop periodically persists monitor's full snapshot until stop is
// closed, the way the calibration tracker periodically flushes its logs.
func (s *Store) SyncLoop(monitor *sensor.Monitor, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			s.syncOnce(monitor)
			return
		case <-ticker.C:
			s.syncOnce(monitor)
		}
	}
}

func (s *Store) syncOnce(monitor *sensor.Monitor) {
	for source, state := range monitor.Snapshot() {
		_ = s.Persist(source, state)
	}
}
