package signature

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/permnode/pkg/types"
)

func TestSignVerify(t *testing.T) {
	// Arrange
	priv, err := GenerateKey()
	require.NoError(t, err)
	pub := PublicKeyBytes(priv)
	hash := types.DoubleSHA256([]byte("header"))

	// Act
	sig := SignHash(priv, hash)

	// Assert
	require.Len(t, pub, PublicKeyLength)
	assert.NoError(t, Verify(pub, hash, sig))

	other := types.DoubleSHA256([]byte("other"))
	assert.ErrorIs(t, Verify(pub, other, sig), ErrInvalidSignature)
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	hash := types.DoubleSHA256([]byte("x"))
	sig := SignHash(priv, hash)

	assert.ErrorIs(t, Verify([]byte{0x02, 0x01}, hash, sig), ErrInvalidPublicKey)
	assert.ErrorIs(t, Verify(PublicKeyBytes(priv), hash, []byte{0x30, 0x01}), ErrInvalidSignatureFormat)
}

func TestVerify_WrongKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	hash := types.DoubleSHA256([]byte("x"))

	assert.ErrorIs(t, Verify(PublicKeyBytes(b), hash, SignHash(a, hash)), ErrInvalidSignature)
}

func TestKeySet(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	ks, err := NewKeySet([]string{hex.EncodeToString(PublicKeyBytes(a))})
	require.NoError(t, err)

	assert.True(t, ks.Contains(PublicKeyBytes(a)))
	assert.False(t, ks.Contains(PublicKeyBytes(b)))
	assert.Equal(t, 1, ks.Len())

	_, err = NewKeySet([]string{"zz"})
	assert.Error(t, err)
	_, err = NewKeySet([]string{"0102"})
	assert.Error(t, err)
}
