package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.NotEqual(t, a, b)
}

func TestEncodeDecodeKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	decoded, err := DecodeKey(EncodeKey(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	t.Run("rejects short key", func(t *testing.T) {
		_, err := DecodeKey("abcd")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("rejects non-hex", func(t *testing.T) {
		_, err := DecodeKey(strings.Repeat("zz", KeySize))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		plain := []byte("ten bytes!")
		sealed, err := Encrypt(plain, key)
		require.NoError(t, err)
		assert.False(t, bytes.Contains(sealed, plain))
		assert.Len(t, sealed, len(plain)+Overhead)

		opened, err := Decrypt(sealed, key)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	})

	t.Run("empty payload", func(t *testing.T) {
		sealed, err := Encrypt(nil, key)
		require.NoError(t, err)
		opened, err := Decrypt(sealed, key)
		require.NoError(t, err)
		assert.Empty(t, opened)
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, err := Encrypt([]byte("secret"), key)
		require.NoError(t, err)
		other, err := GenerateKey()
		require.NoError(t, err)

		_, err = Decrypt(sealed, other)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		sealed, err := Encrypt([]byte("secret"), key)
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0xff

		_, err = Decrypt(sealed, key)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		_, err := Decrypt([]byte{1, 2, 3}, key)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("bad key length", func(t *testing.T) {
		_, err := Encrypt([]byte("x"), []byte("short"))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestPasswordHasher(t *testing.T) {
	t.Run("sha256 is deterministic", func(t *testing.T) {
		h, err := NewPasswordHasher(SchemeSHA256)
		require.NoError(t, err)

		a, err := h.Hash("abc123")
		require.NoError(t, err)
		b, err := h.Hash("abc123")
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Equal(t, "6ca13d52ca70c883e0f0bb101e425a89e8624de51db2d2392593af6a84118090", a)
		assert.True(t, h.Verify("abc123", a))
		assert.False(t, h.Verify("wrong", a))
	})

	t.Run("bcrypt is salted", func(t *testing.T) {
		h, err := NewPasswordHasher(SchemeBcrypt)
		require.NoError(t, err)

		a, err := h.Hash("abc123")
		require.NoError(t, err)
		b, err := h.Hash("abc123")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.True(t, h.Verify("abc123", a))
		assert.False(t, h.Verify("wrong", a))
	})

	t.Run("verifies digests of either scheme", func(t *testing.T) {
		legacy, _ := NewPasswordHasher(SchemeSHA256)
		salted, _ := NewPasswordHasher(SchemeBcrypt)

		digest, err := salted.Hash("pw")
		require.NoError(t, err)
		assert.True(t, legacy.Verify("pw", digest))

		digest, err = legacy.Hash("pw")
		require.NoError(t, err)
		assert.True(t, salted.Verify("pw", digest))
	})

	t.Run("empty scheme defaults to sha256", func(t *testing.T) {
		h, err := NewPasswordHasher("")
		require.NoError(t, err)
		assert.Equal(t, SchemeSHA256, h.Scheme())
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := NewPasswordHasher("md5")
		assert.ErrorIs(t, err, ErrUnknownScheme)
	})
}
