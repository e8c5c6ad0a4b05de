package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/myelnet/clipmesh/ports"
)

// Store persists the set of TrustedDevices through a ports.StoragePort,
// holding the full list under a single key (spec.md §4.2).
type Store struct {
	storage ports.StoragePort

	mu      sync.Mutex
	loaded  bool
	devices map[string]TrustedDevice
}

// NewStore builds a Trust store over the given StoragePort.
func NewStore(storage ports.StoragePort) *Store {
	return &Store{storage: storage, devices: make(map[string]TrustedDevice)}
}

func (s *Store) ensureLoadedLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw, err := s.storage.Get(ctx, ports.KeyTrustedDevices)
	if err != nil {
		return fmt.Errorf("trust store: load: %w", err)
	}
	if raw != nil {
		var list []TrustedDevice
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("trust store: corrupt stored record: %w", err)
		}
		for _, d := range list {
			s.devices[d.DeviceID] = d
		}
	}
	s.loaded = true
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	list := make([]TrustedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		list = append(list, d)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("trust store: marshal: %w", err)
	}
	if err := s.storage.Set(ctx, ports.KeyTrustedDevices, raw); err != nil {
		return fmt.Errorf("trust store: persist: %w", err)
	}
	return nil
}

// List returns all trusted devices.
func (s *Store) List(ctx context.Context) ([]TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]TrustedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out, nil
}

// Get returns the trusted device with the given id, if any.
func (s *Store) Get(ctx context.Context, id string) (TrustedDevice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return TrustedDevice{}, false, err
	}
	d, ok := s.devices[id]
	return d, ok, nil
}

// IsTrusted reports whether id is a trusted device.
func (s *Store) IsTrusted(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.Get(ctx, id)
	return ok, err
}

// Upsert inserts dev by DeviceID if absent; otherwise it merges
// non-empty/non-zero fields into the existing record and refreshes
// LastSeen. Upserting the same value twice leaves the store in the same
// state as one upsert (spec.md §8 idempotence property) when dev carries a
// non-zero LastSeen; a zero LastSeen is replaced by the current time on
// each call.
func (s *Store) Upsert(ctx context.Context, dev TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	existing, ok := s.devices[dev.DeviceID]
	if !ok {
		if dev.LastSeen.IsZero() {
			dev.LastSeen = time.Now()
		}
		s.devices[dev.DeviceID] = dev
		return s.persistLocked(ctx)
	}

	merged := existing
	if dev.DeviceName != "" {
		merged.DeviceName = dev.DeviceName
	}
	if len(dev.PublicKey) > 0 {
		merged.PublicKey = dev.PublicKey
	}
	if len(dev.Multiaddrs) > 0 {
		merged.Multiaddrs = dev.Multiaddrs
	}
	if !dev.CreatedAt.IsZero() {
		merged.CreatedAt = dev.CreatedAt
	}
	if !dev.LastSeen.IsZero() {
		merged.LastSeen = dev.LastSeen
	} else {
		merged.LastSeen = time.Now()
	}
	s.devices[dev.DeviceID] = merged
	return s.persistLocked(ctx)
}

// Remove deletes a trusted device, if present.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	if _, ok := s.devices[id]; !ok {
		return nil
	}
	delete(s.devices, id)
	return s.persistLocked(ctx)
}
