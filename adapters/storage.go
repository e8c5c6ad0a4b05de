// Package adapters provides concrete ports.StoragePort, keystore, and
// in-memory ClipboardPort/HistoryPort implementations backing the core
// (spec.md §6). Grounded on node/popn.go's badgerds.NewDatastore +
// keystore.NewFSKeystore repo-on-disk wiring, repointed from IPLD
// blockstore/multistore use at generic key/value and key-material storage.
package adapters

import (
	"context"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	badgerds "github.com/ipfs/go-ds-badger"

	"github.com/myelnet/clipmesh/ports"
)

// BadgerStorage is a ports.StoragePort backed by a single badger datastore,
// the same store node/popn.go opens for its blockstore/multistore — here
// repurposed to hold the handful of small JSON records (identity, trusted
// devices, pinned ids) the core persists.
type BadgerStorage struct {
	ds *badgerds.Datastore
}

// OpenBadgerStorage opens (creating if absent) a badger datastore at dir.
func OpenBadgerStorage(dir string) (*BadgerStorage, error) {
	opts := badgerds.DefaultOptions
	opts.SyncWrites = true // small, infrequent writes; durability matters more than throughput here
	d, err := badgerds.NewDatastore(dir, &opts)
	if err != nil {
		return nil, fmt.Errorf("adapters: open badger datastore: %w", err)
	}
	return &BadgerStorage{ds: d}, nil
}

func storageKey(key string) ds.Key { return ds.NewKey("/" + key) }

// Get returns (nil, nil) if key was never set, matching the convention the
// identity and trust stores are written against.
func (b *BadgerStorage) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.ds.Get(ctx, storageKey(key))
	if err != nil {
		if err == ds.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("adapters: badger get %q: %w", key, err)
	}
	return val, nil
}

// Set writes value under key, overwriting any previous value.
func (b *BadgerStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := b.ds.Put(ctx, storageKey(key), value); err != nil {
		return fmt.Errorf("adapters: badger put %q: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error.
func (b *BadgerStorage) Remove(ctx context.Context, key string) error {
	if err := b.ds.Delete(ctx, storageKey(key)); err != nil {
		return fmt.Errorf("adapters: badger delete %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the underlying datastore.
func (b *BadgerStorage) Close() error {
	return b.ds.Close()
}

var _ ports.StoragePort = (*BadgerStorage)(nil)
