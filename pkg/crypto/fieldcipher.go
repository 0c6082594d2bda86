package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidKey = errors.New("encryption key must be 32 bytes hex-encoded")

// FieldCipher encrypts individual personal fields before they reach the
// store. Each ciphertext carries its own random nonce, so equal plaintexts
// never produce equal ciphertexts.
type FieldCipher struct {
	key []byte
}

func NewFieldCipher(hexKey string) (*FieldCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}

	return &FieldCipher{key: key}, nil
}

// EncryptField returns nil for an empty value so optional fields stay NULL.
func (fc *FieldCipher) EncryptField(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}

	aead, err := chacha20poly1305.NewX(fc.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (fc *FieldCipher) DecryptField(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(fc.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt field: %w", err)
	}

	return string(plaintext), nil
}
