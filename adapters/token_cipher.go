package adapters

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	f "github.com/inboxpilot/inboxpilot/core"
)

const (
	cipherSaltLen   = 64
	cipherNonceLen  = 12
	cipherKeyLen    = 32
	cipherPBKDFIter = 100_000
)

// AESTokenCipher protects provider credentials at rest with AES-256-GCM. The
// key is derived per ciphertext from the configured secret via
// PBKDF2-SHA512; output layout is base64(salt || nonce || ciphertext+tag).
type AESTokenCipher struct {
	secret string
}

func NewAESTokenCipher(secret string) (*AESTokenCipher, error) {
	if len(secret) != 64 {
		return nil, fmt.Errorf("encryption key must be 64 hex characters (32 bytes)")
	}
	return &AESTokenCipher{secret: secret}, nil
}

var _ f.TokenCipher = (*AESTokenCipher)(nil)

func (c *AESTokenCipher) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(c.secret), salt, cipherPBKDFIter, cipherKeyLen, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *AESTokenCipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, cipherSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	nonce := make([]byte, cipherNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	aead, err := c.gcm(salt)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := append(append(salt, nonce...), sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *AESTokenCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	if len(raw) < cipherSaltLen+cipherNonceLen {
		return "", fmt.Errorf("ciphertext too short")
	}
	salt := raw[:cipherSaltLen]
	nonce := raw[cipherSaltLen : cipherSaltLen+cipherNonceLen]
	sealed := raw[cipherSaltLen+cipherNonceLen:]
	aead, err := c.gcm(salt)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return string(plain), nil
}
