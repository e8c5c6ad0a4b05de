package binder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/clipmesh/identity"
	"github.com/myelnet/clipmesh/trust"
	"github.com/myelnet/clipmesh/trustproto"
	"github.com/myelnet/clipmesh/wire"
)

// memStorage is a minimal in-memory ports.StoragePort, as used across the
// other packages' test files.
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

// fakeTrustMessenger is an in-process stand-in for *messenger.TrustMessenger
// that lets a test drive inbound requests/acks and observe outbound acks
// directly, without a real or simulated transport.
type fakeTrustMessenger struct {
	mu          sync.Mutex
	requestSubs []func(peer.ID, wire.TrustRequest)
	ackSubs     []func(peer.ID, wire.TrustAck)

	sentAcks chan wire.TrustAck
}

func newFakeTrustMessenger() *fakeTrustMessenger {
	return &fakeTrustMessenger{sentAcks: make(chan wire.TrustAck, 8)}
}

func (f *fakeTrustMessenger) OnRequest(cb func(peer.ID, wire.TrustRequest)) {
	f.mu.Lock()
	f.requestSubs = append(f.requestSubs, cb)
	f.mu.Unlock()
}

func (f *fakeTrustMessenger) OnAck(cb func(peer.ID, wire.TrustAck)) {
	f.mu.Lock()
	f.ackSubs = append(f.ackSubs, cb)
	f.mu.Unlock()
}

func (f *fakeTrustMessenger) SendAck(_ context.Context, _ string, ack wire.TrustAck) error {
	f.sentAcks <- ack
	return nil
}

func (f *fakeTrustMessenger) deliverRequest(from peer.ID, req wire.TrustRequest) {
	f.mu.Lock()
	cbs := append([]func(peer.ID, wire.TrustRequest)(nil), f.requestSubs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(from, req)
	}
}

func (f *fakeTrustMessenger) deliverAck(from peer.ID, ack wire.TrustAck) {
	f.mu.Lock()
	cbs := append([]func(peer.ID, wire.TrustAck)(nil), f.ackSubs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(from, ack)
	}
}

func genSignedRequest(t *testing.T, to string) wire.TrustRequest {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
	require.NoError(t, err)
	pubBytes, err := crypto.MarshalPublicKey(pub)
	require.NoError(t, err)
	deviceID, err := identity.DeriveDeviceID(pub)
	require.NoError(t, err)

	payload := identity.DeviceIdentity{
		DeviceID:   deviceID,
		DeviceName: "requester",
		PublicKey:  pubBytes,
		CreatedAt:  time.Now(),
	}
	req := wire.TrustRequest{Type: wire.TypeTrustRequest, From: deviceID, To: to, Payload: payload, SentAt: time.Now().Unix()}
	signed, err := trustproto.SignTrustRequest(req, priv)
	require.NoError(t, err)
	return signed
}

func setup(t *testing.T) (*Binder, *fakeTrustMessenger, *trust.Manager, *trust.Store, string) {
	t.Helper()
	idStore := identity.NewStore(newMemStorage())
	localID, err := idStore.Get(context.Background())
	require.NoError(t, err)

	store := trust.NewStore(newMemStorage())
	mgr := trust.NewManager(store, localID.DeviceID)
	msgr := newFakeTrustMessenger()
	b := New(msgr, mgr, store, idStore)
	t.Cleanup(func() { b.Close(); mgr.Close() })
	return b, msgr, mgr, store, localID.DeviceID
}

func TestInboundRequestApprovedSendsPositiveAckWithResponder(t *testing.T) {
	_, msgr, mgr, _, localID := setup(t)

	req := genSignedRequest(t, localID)
	msgr.deliverRequest(peer.ID(req.From), req)
	require.NoError(t, mgr.Approve(context.Background(), req.From))

	select {
	case ack := <-msgr.sentAcks:
		require.True(t, ack.Payload.Accepted)
		require.NotNil(t, ack.Payload.Responder)
		require.Equal(t, localID, ack.Payload.Responder.DeviceID)
		require.Equal(t, req.From, ack.To)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestInboundRequestAlreadyTrustedSendsPositiveAckImmediately(t *testing.T) {
	_, msgr, _, store, localID := setup(t)

	req := genSignedRequest(t, localID)
	require.NoError(t, store.Upsert(context.Background(), trust.TrustedDevice{DeviceID: req.From, PublicKey: req.Payload.PublicKey}))

	msgr.deliverRequest(peer.ID(req.From), req)

	select {
	case ack := <-msgr.sentAcks:
		require.True(t, ack.Payload.Accepted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestInboundRequestRejectedSendsNegativeAckNoResponder(t *testing.T) {
	_, msgr, mgr, _, localID := setup(t)

	req := genSignedRequest(t, localID)
	msgr.deliverRequest(peer.ID(req.From), req)
	mgr.Reject(req.From)

	select {
	case ack := <-msgr.sentAcks:
		require.False(t, ack.Payload.Accepted)
		require.Nil(t, ack.Payload.Responder)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestInboundAckAcceptedUpsertsResponder(t *testing.T) {
	_, msgr, _, store, localID := setup(t)

	req := genSignedRequest(t, localID)
	responder := identity.DeviceIdentity{DeviceID: "responder-1", DeviceName: "laptop", PublicKey: []byte("pk")}
	ack := wire.TrustAck{
		Type:    wire.TypeTrustAck,
		From:    "responder-1",
		To:      localID,
		Payload: wire.TrustAckPayload{Accepted: true, Request: req, Responder: &responder},
	}
	msgr.deliverAck(peer.ID("responder-1"), ack)

	require.Eventually(t, func() bool {
		trusted, err := store.IsTrusted(context.Background(), "responder-1")
		return err == nil && trusted
	}, time.Second, 10*time.Millisecond)
}

func TestInboundAckRejectedDoesNotUpsert(t *testing.T) {
	_, msgr, _, store, localID := setup(t)

	req := genSignedRequest(t, localID)
	ack := wire.TrustAck{Type: wire.TypeTrustAck, From: "responder-2", To: localID, Payload: wire.TrustAckPayload{Accepted: false, Request: req}}
	msgr.deliverAck(peer.ID("responder-2"), ack)

	trusted, err := store.IsTrusted(context.Background(), "responder-2")
	require.NoError(t, err)
	require.False(t, trusted)
}
