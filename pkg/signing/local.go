package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"

	"github.com/lumebot/lumebot/pkg/types"
)

// LocalBackend signs with in-memory ed25519 software keys. Intended for
// paper trading and tests; production deployments plug in an HSM or
// hardware-wallet backend instead.
type LocalBackend struct {
	mu   sync.RWMutex
	keys map[KeyHandle]ed25519.PrivateKey
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		keys: make(map[KeyHandle]ed25519.PrivateKey),
	}
}

// GenerateKey creates a new keypair and returns its handle.
func (b *LocalBackend) GenerateKey() (KeyHandle, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", errors.Wrap(err, "generate ed25519 key")
	}

	handle := KeyHandle(hex.EncodeToString(pub[:8]))

	b.mu.Lock()
	b.keys[handle] = priv
	b.mu.Unlock()

	return handle, nil
}

// AddKey registers an existing private key under the given handle.
func (b *LocalBackend) AddKey(handle KeyHandle, priv ed25519.PrivateKey) {
	b.mu.Lock()
	b.keys[handle] = priv
	b.mu.Unlock()
}

// PublicKey returns the public key for a handle, for signature
// verification in tests.
func (b *LocalBackend) PublicKey(handle KeyHandle) (ed25519.PublicKey, error) {
	b.mu.RLock()
	priv, ok := b.keys[handle]
	b.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrInvalidKeyHandle, "%s", handle)
	}

	return priv.Public().(ed25519.PublicKey), nil
}

func (b *LocalBackend) Sign(ctx context.Context, digest []byte, key KeyHandle) (types.Signature, error) {
	if err := ctx.Err(); err != nil {
		return types.Signature{}, err
	}

	b.mu.RLock()
	priv, ok := b.keys[key]
	b.mu.RUnlock()

	if !ok {
		return types.Signature{}, errors.Wrapf(ErrInvalidKeyHandle, "%s", key)
	}

	return types.Signature{
		KeyHint: string(key),
		Payload: ed25519.Sign(priv, digest),
	}, nil
}
