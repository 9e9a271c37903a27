// Package identity manages the node's stable keypair: persisted
// per-user, and convertible to a libp2p host identity. The network
// identifier is the public-key hash (the libp2p peer id derived from
// it).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

// KeyPair is the node's ed25519 identity.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewKeyPair generates a fresh keypair.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// keyPairFromSeed rebuilds a KeyPair from its 32-byte seed.
func keyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: invalid seed size: expected %d, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyBase64 returns the public key, base64-encoded.
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}

// ToLibp2pPrivKey converts the node identity into the private key
// type libp2p's host construction expects.
func (kp *KeyPair) ToLibp2pPrivKey() (libp2pcrypto.PrivKey, error) {
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("identity: converting to libp2p key: %w", err)
	}
	return priv, nil
}

// LoadOrCreate reads the persisted seed for `user` under dataDir,
// generating and persisting a fresh keypair on first run.
func LoadOrCreate(dataDir, user string) (*KeyPair, error) {
	path := keyPath(dataDir, user)

	seed, err := os.ReadFile(path)
	if err == nil {
		return keyPairFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: reading key file: %w", err)
	}

	kp, err := NewKeyPair()
	if err != nil {
		return nil, err
	}
	seed = kp.PrivateKey.Seed()

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: creating data dir: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("identity: persisting key file: %w", err)
	}
	return kp, nil
}

func keyPath(dataDir, user string) string {
	return filepath.Join(dataDir, user+".key")
}
