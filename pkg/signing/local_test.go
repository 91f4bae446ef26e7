package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackend_SignAndVerify(t *testing.T) {
	b := NewLocalBackend()

	handle, err := b.GenerateKey()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("payload"))
	sig, err := b.Sign(context.Background(), digest[:], handle)
	require.NoError(t, err)
	assert.Equal(t, string(handle), sig.KeyHint)

	pub, err := b.PublicKey(handle)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, digest[:], sig.Payload))
}

func TestLocalBackend_InvalidKeyHandle(t *testing.T) {
	b := NewLocalBackend()

	_, err := b.Sign(context.Background(), []byte("digest"), "nope")
	assert.ErrorIs(t, err, ErrInvalidKeyHandle)
}

func TestLocalBackend_CancelledContext(t *testing.T) {
	b := NewLocalBackend()
	handle, err := b.GenerateKey()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.Sign(ctx, []byte("digest"), handle)
	assert.ErrorIs(t, err, context.Canceled)
}
