// Package identity implements the local device's long-lived key pair, name,
// and last-known reachable addresses (spec.md §4.1).
//
// deviceId is derived the same way libp2p derives a peer ID: a multihash of
// the canonical public key bytes (identity multihash for small keys such as
// Ed25519, sha256 otherwise), base58-encoded. Persistence goes
// through ports.StoragePort; the private key is marshaled with libp2p's own
// canonical protobuf key encoding (crypto.MarshalPrivateKey), the same
// "key-protobuf form" spec.md §4.1 asks for.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/ports"
)

// DeviceIdentity is the local, one-per-installation identity record.
type DeviceIdentity struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	PublicKey  []byte    `json:"publicKey"`
	PrivateKey []byte    `json:"privateKey,omitempty"`
	Multiaddrs []string  `json:"multiaddrs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Public returns a copy of id with PrivateKey cleared, suitable for wire
// transmission (TrustRequestPayload / pairing QR).
func (id DeviceIdentity) Public() DeviceIdentity {
	pub := id
	pub.PrivateKey = nil
	pub.Multiaddrs = append([]string(nil), id.Multiaddrs...)
	return pub
}

// PrivKey unmarshals the stored private key into a libp2p crypto.PrivKey.
func (id DeviceIdentity) PrivKey() (crypto.PrivKey, error) {
	return crypto.UnmarshalPrivateKey(id.PrivateKey)
}

// PubKey unmarshals the stored public key into a libp2p crypto.PubKey.
func (id DeviceIdentity) PubKey() (crypto.PubKey, error) {
	return crypto.UnmarshalPublicKey(id.PublicKey)
}

// DeriveDeviceID computes deviceId = base58(multihash(publicKey)) via
// libp2p's peer.IDFromPublicKey (identity multihash for small keys such as
// Ed25519, sha256 multihash otherwise) and base58-encodes the result
// through peer.ID.String().
func DeriveDeviceID(pub crypto.PubKey) (string, error) {
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("derive device id: %w", err)
	}
	return pid.String(), nil
}

// Store is the mutex-guarded singleton that owns the local DeviceIdentity.
// All operations are serialized; concurrent Get calls return the same
// identity without re-creating it.
type Store struct {
	storage ports.StoragePort

	mu          sync.Mutex
	cached      *DeviceIdentity
	keyBits     int // not read: fresh key pairs are always Ed25519
	keyType     int // not read: fresh key pairs are always Ed25519
	deviceNm    string
	keyOverride crypto.PrivKey
}

// Option configures a new Store.
type Option func(*Store)

// WithDefaultName sets the device name used if an identity must be created.
func WithDefaultName(name string) Option {
	return func(s *Store) { s.deviceNm = name }
}

// WithPrivateKey supplies the key pair to use when an identity must be
// created, instead of generating a fresh one. Used when a caller already
// sources the node's long-lived key from a keystore (adapters.FileKeystore)
// and wants the identity record built around that same key rather than a
// second, disconnected one.
func WithPrivateKey(priv crypto.PrivKey) Option {
	return func(s *Store) { s.keyOverride = priv }
}

// NewStore builds an identity Store over the given StoragePort.
func NewStore(storage ports.StoragePort, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		keyType: int(crypto.Ed25519),
		keyBits: -1, // ignored for Ed25519
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the current DeviceIdentity, generating and persisting a fresh
// one on first call. Concurrent callers observe exactly one generation.
func (s *Store) Get(ctx context.Context) (DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return *s.cached, nil
	}

	raw, err := s.storage.Get(ctx, ports.KeyLocalDeviceIdentity)
	if err == nil && raw != nil {
		var id DeviceIdentity
		if uerr := json.Unmarshal(raw, &id); uerr != nil {
			return DeviceIdentity{}, fmt.Errorf("identity: corrupt stored record: %w", uerr)
		}
		s.cached = &id
		return id, nil
	}

	id, err := s.generate()
	if err != nil {
		return DeviceIdentity{}, err
	}
	if err := s.persist(ctx, id); err != nil {
		// A failed identity write prevents startup (spec.md §7).
		return DeviceIdentity{}, fmt.Errorf("identity: persist new identity: %w", err)
	}
	s.cached = &id
	log.Info().Str("deviceId", id.DeviceID).Msg("identity: generated new device identity")
	return id, nil
}

func (s *Store) generate() (DeviceIdentity, error) {
	priv := s.keyOverride
	var pub crypto.PubKey
	if priv != nil {
		pub = priv.GetPublic()
	} else {
		var err error
		priv, pub, err = crypto.GenerateKeyPair(crypto.Ed25519, 0)
		if err != nil {
			return DeviceIdentity{}, fmt.Errorf("identity: generate key pair: %w", err)
		}
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return DeviceIdentity{}, fmt.Errorf("identity: marshal private key: %w", err)
	}
	pubBytes, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return DeviceIdentity{}, fmt.Errorf("identity: marshal public key: %w", err)
	}
	deviceID, err := DeriveDeviceID(pub)
	if err != nil {
		return DeviceIdentity{}, err
	}
	name := s.deviceNm
	if name == "" {
		name = "unnamed device"
	}
	return DeviceIdentity{
		DeviceID:   deviceID,
		DeviceName: name,
		PublicKey:  pubBytes,
		PrivateKey: privBytes,
		Multiaddrs: nil,
		CreatedAt:  time.Now(),
	}, nil
}

// UpdateMultiaddrs replaces the cached address list, deduplicating while
// preserving order.
func (s *Store) UpdateMultiaddrs(ctx context.Context, addrs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.getLocked(ctx)
	if err != nil {
		return err
	}
	id.Multiaddrs = dedupPreserveOrder(addrs)
	return s.persist(ctx, id)
}

// SetDeviceName updates the device's label.
func (s *Store) SetDeviceName(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.getLocked(ctx)
	if err != nil {
		return err
	}
	id.DeviceName = name
	return s.persist(ctx, id)
}

// getLocked is Get's body without re-acquiring the mutex, for internal use
// by mutators that already hold it.
func (s *Store) getLocked(ctx context.Context) (DeviceIdentity, error) {
	if s.cached != nil {
		return *s.cached, nil
	}
	raw, err := s.storage.Get(ctx, ports.KeyLocalDeviceIdentity)
	if err == nil && raw != nil {
		var id DeviceIdentity
		if uerr := json.Unmarshal(raw, &id); uerr != nil {
			return DeviceIdentity{}, fmt.Errorf("identity: corrupt stored record: %w", uerr)
		}
		s.cached = &id
		return id, nil
	}
	id, err := s.generate()
	if err != nil {
		return DeviceIdentity{}, err
	}
	if err := s.persist(ctx, id); err != nil {
		return DeviceIdentity{}, err
	}
	s.cached = &id
	return id, nil
}

func (s *Store) persist(ctx context.Context, id DeviceIdentity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	if err := s.storage.Set(ctx, ports.KeyLocalDeviceIdentity, raw); err != nil {
		return fmt.Errorf("identity: store: %w", err)
	}
	s.cached = &id
	return nil
}

func dedupPreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
