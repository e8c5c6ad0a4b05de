// Package ports declares the external collaborators the core consumes but
// does not implement: platform storage, the OS clipboard, and the clip
// history store. Production backends for these live outside this module
// (or, for demos/tests, in package adapters); the core only ever depends on
// these interfaces, mirroring how node.RemoteStorer narrows the teacher's
// Filecoin storage backend to the handful of methods the node actually
// calls.
package ports

import (
	"context"
	"time"

	"github.com/myelnet/clipmesh/clip"
)

// StoragePort is the platform key/value persistence the Identity and Trust
// stores are built on.
type StoragePort interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Well-known StoragePort keys.
const (
	KeyLocalDeviceIdentity = "localDeviceIdentity"
	KeyTrustedDevices      = "trustedDevices"
	KeyPinnedIDs           = "pinnedIds"
)

// ErrNotFound is a not-found error value for StoragePort implementations.
// No adapter in this module returns it: their Get returns (nil, nil) for a
// key that has never been set, and the identity and trust stores treat any
// error from Get as a load failure.
var ErrNotFound = storageNotFoundError{}

type storageNotFoundError struct{}

func (storageNotFoundError) Error() string { return "storage: key not found" }

// ClipboardPort watches and writes the local OS clipboard.
type ClipboardPort interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	OnLocalClip(cb func(clip.Clip))
	Start(ctx context.Context) error
	Stop() error
}

// DefaultPollInterval is the ClipboardPort polling interval spec.md §6
// specifies when a concrete implementation polls rather than subscribes to
// OS clipboard-changed notifications.
const DefaultPollInterval = 1500 * time.Millisecond

// HistoryPort is the clip history store.
type HistoryPort interface {
	Add(ctx context.Context, c clip.Clip, fromDeviceID string, isLocal bool) error
	Remove(ctx context.Context, id string) error
	ExportAll(ctx context.Context) ([]clip.Clip, error)
	OnNew(cb func(clip.Clip))
}
