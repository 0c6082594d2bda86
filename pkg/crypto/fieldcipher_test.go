package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewFieldCipherKeyValidation(t *testing.T) {
	_, err := NewFieldCipher(testKey)
	assert.NoError(t, err)

	_, err = NewFieldCipher("not-hex")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFieldCipher("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFieldCipher("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	fc, err := NewFieldCipher(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"alice@example.com", "+1 555 0100", strings.Repeat("x", 4096)} {
		ciphertext, err := fc.EncryptField(plaintext)
		require.NoError(t, err)
		assert.NotContains(t, string(ciphertext), plaintext)

		got, err := fc.DecryptField(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptEmptyFieldStaysNil(t *testing.T) {
	fc, err := NewFieldCipher(testKey)
	require.NoError(t, err)

	ciphertext, err := fc.EncryptField("")
	require.NoError(t, err)
	assert.Nil(t, ciphertext)

	got, err := fc.DecryptField(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncryptNonDeterministic(t *testing.T) {
	fc, err := NewFieldCipher(testKey)
	require.NoError(t, err)

	a, err := fc.EncryptField("alice@example.com")
	require.NoError(t, err)
	b, err := fc.EncryptField("alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	fc, err := NewFieldCipher(testKey)
	require.NoError(t, err)
	other, err := NewFieldCipher(strings.Repeat("ff", 32))
	require.NoError(t, err)

	ciphertext, err := fc.EncryptField("alice@example.com")
	require.NoError(t, err)

	_, err = other.DecryptField(ciphertext)
	assert.Error(t, err)
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	fc, err := NewFieldCipher(testKey)
	require.NoError(t, err)

	_, err = fc.DecryptField([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}
