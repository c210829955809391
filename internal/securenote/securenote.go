// Package securenote encrypts check-in note text at rest using
// ChaCha20-Poly1305. Ciphertexts are self-contained: the random nonce is
// prepended to the sealed bytes, so decryption needs only the key.
package securenote

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"companion/internal/types"
)

// KeySize is the required key length in bytes (hex-encoded keys are twice
// this length).
const KeySize = chacha20poly1305.KeySize

// Cipher seals and opens note plaintext with a single symmetric key.
type Cipher struct {
	key []byte
}

// NewCipher parses a hex-encoded 32-byte key and returns a Cipher.
func NewCipher(hexKey types.SecretString) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey.Unmask())
	if err != nil {
		return nil, fmt.Errorf("securenote: key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("securenote: key must be %d bytes, got %d", KeySize, len(key))
	}
	return &Cipher{key: key}, nil
}

// Seal encrypts plaintext and returns nonce-prefixed ciphertext.
func (c *Cipher) Seal(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("securenote: failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("securenote: failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts nonce-prefixed ciphertext produced by Seal. It fails if the
// ciphertext was sealed with a different key or has been tampered with.
func (c *Cipher) Open(ciphertext []byte) (string, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("securenote: failed to create cipher: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return "", fmt.Errorf("securenote: ciphertext too short (%d bytes)", len(ciphertext))
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("securenote: failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
