package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/clipmesh/ports"
)

// memStorage is a minimal in-memory ports.StoragePort for tests.
type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{data: map[string][]byte{}} }

func (m *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return v, nil
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

var _ ports.StoragePort = (*memStorage)(nil)

func TestGetCreatesOnFirstCall(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemStorage(), WithDefaultName("laptop"))

	id, err := store.Get(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id.DeviceID)
	require.Equal(t, "laptop", id.DeviceName)
	require.NotEmpty(t, id.PrivateKey)

	pub, err := id.PubKey()
	require.NoError(t, err)
	derived, err := DeriveDeviceID(pub)
	require.NoError(t, err)
	require.Equal(t, derived, id.DeviceID)
}

func TestGetIsIdempotentAcrossConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemStorage())

	const n = 16
	ids := make([]DeviceIdentity, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id, err := store.Get(ctx)
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Equal(t, ids[0].DeviceID, ids[i].DeviceID)
	}
}

func TestUpdateMultiaddrsDedupsPreservingOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemStorage())
	_, err := store.Get(ctx)
	require.NoError(t, err)

	err = store.UpdateMultiaddrs(ctx, []string{"/ip4/1.2.3.4/tcp/4001", "/ip4/5.6.7.8/tcp/4001", "/ip4/1.2.3.4/tcp/4001"})
	require.NoError(t, err)

	id, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"/ip4/1.2.3.4/tcp/4001", "/ip4/5.6.7.8/tcp/4001"}, id.Multiaddrs)
}

func TestSetDeviceNamePersists(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	store := NewStore(storage)
	_, err := store.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetDeviceName(ctx, "desktop"))

	// A fresh Store over the same storage should observe the persisted name.
	store2 := NewStore(storage)
	id, err := store2.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "desktop", id.DeviceName)
}

func TestPublicClearsPrivateKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemStorage())
	id, err := store.Get(ctx)
	require.NoError(t, err)

	pub := id.Public()
	require.Nil(t, pub.PrivateKey)
	require.Equal(t, id.DeviceID, pub.DeviceID)
}
