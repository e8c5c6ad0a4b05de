package adapters

import (
	"fmt"

	keystore "github.com/ipfs/go-ipfs-keystore"
	"github.com/libp2p/go-libp2p/core/crypto"
)

// selfKeyName is the single key FileKeystore manages: this module runs one
// identity per installation (spec.md §4.1), so there is never a second
// named key to distinguish it from.
const selfKeyName = "self"

// FileKeystore persists the node's long-lived libp2p private key on disk,
// the same FSKeystore node/popn.go opens before deriving its libp2p
// identity (utils.Libp2pKey(ks)).
type FileKeystore struct {
	ks keystore.Keystore
}

// OpenFileKeystore opens (creating if absent) a keystore directory at dir.
func OpenFileKeystore(dir string) (*FileKeystore, error) {
	ks, err := keystore.NewFSKeystore(dir)
	if err != nil {
		return nil, fmt.Errorf("adapters: open keystore: %w", err)
	}
	return &FileKeystore{ks: ks}, nil
}

// LoadOrGenerate returns the stored key, generating and persisting a fresh
// Ed25519 key pair on first use.
func (f *FileKeystore) LoadOrGenerate() (crypto.PrivKey, error) {
	has, err := f.ks.Has(selfKeyName)
	if err != nil {
		return nil, fmt.Errorf("adapters: keystore has: %w", err)
	}
	if has {
		priv, err := f.ks.Get(selfKeyName)
		if err != nil {
			return nil, fmt.Errorf("adapters: keystore get: %w", err)
		}
		return priv, nil
	}

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
	if err != nil {
		return nil, fmt.Errorf("adapters: generate key pair: %w", err)
	}
	if err := f.ks.Put(selfKeyName, priv); err != nil {
		return nil, fmt.Errorf("adapters: keystore put: %w", err)
	}
	return priv, nil
}
