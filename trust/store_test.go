package trust

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{data: map[string][]byte{}} }

func (m *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestUpsertInsertsNewDevice(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemStorage())
	dev := TrustedDevice{DeviceID: "d1", DeviceName: "phone", PublicKey: []byte("pk")}
	require.NoError(t, s.Upsert(ctx, dev))

	got, ok, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "phone", got.DeviceName)
}

func TestUpsertTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemStorage())
	dev := TrustedDevice{DeviceID: "d1", DeviceName: "phone", PublicKey: []byte("pk"), LastSeen: time.Unix(100, 0)}

	require.NoError(t, s.Upsert(ctx, dev))
	first, _, err := s.Get(ctx, "d1")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, dev))
	second, _, err := s.Get(ctx, "d1")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestUpsertMergesNonEmptyFields(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemStorage())
	require.NoError(t, s.Upsert(ctx, TrustedDevice{DeviceID: "d1", DeviceName: "phone", PublicKey: []byte("pk")}))

	require.NoError(t, s.Upsert(ctx, TrustedDevice{DeviceID: "d1", Multiaddrs: []string{"/ip4/1.2.3.4/tcp/1"}}))

	got, _, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "phone", got.DeviceName) // preserved
	require.Equal(t, []string{"/ip4/1.2.3.4/tcp/1"}, got.Multiaddrs)
}

func TestRemoveDeletesDevice(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemStorage())
	require.NoError(t, s.Upsert(ctx, TrustedDevice{DeviceID: "d1"}))
	require.NoError(t, s.Remove(ctx, "d1"))

	_, ok, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsTrusted(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemStorage())
	ok, err := s.IsTrusted(ctx, "d1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Upsert(ctx, TrustedDevice{DeviceID: "d1"}))
	ok, err = s.IsTrusted(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListSurvivesReload(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	s := NewStore(storage)
	require.NoError(t, s.Upsert(ctx, TrustedDevice{DeviceID: "d1"}))
	require.NoError(t, s.Upsert(ctx, TrustedDevice{DeviceID: "d2"}))

	s2 := NewStore(storage)
	list, err := s2.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}
