package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"rosina/pkg/contracts/domain"
)

const (
	nonceSize  = 12
	aesKeySize = 32

	hkdfInfo = "rosina/delivery-bundle/v1"
)

// Cipher seals and opens the key bundles persisted on order rows.
// The AES-256 key is derived from the delivery secret with HKDF-SHA256
// so rotating the secret rotates the encryption key without any key
// file management.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the bundle key from secret and prepares the AEAD.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("delivery secret is empty")
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive bundle key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// EncryptBundle serializes the bundle to JSON and seals it with
// AES-256-GCM. The 12-byte nonce is prepended to the ciphertext.
func (c *Cipher) EncryptBundle(bundle domain.KeyBundle) ([]byte, error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal key bundle: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptBundle opens an encrypted bundle. Any authentication failure,
// truncated payload, or malformed JSON comes back as an error; callers
// must treat that as a corrupt bundle rather than an empty one.
func (c *Cipher) DecryptBundle(data []byte) (domain.KeyBundle, error) {
	if len(data) <= nonceSize {
		return domain.KeyBundle{}, fmt.Errorf("encrypted bundle too short: %d bytes", len(data))
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return domain.KeyBundle{}, fmt.Errorf("open bundle: %w", err)
	}

	var bundle domain.KeyBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return domain.KeyBundle{}, fmt.Errorf("unmarshal key bundle: %w", err)
	}
	return bundle, nil
}
