// Package crypto is the PII protection collaborator. The pipeline never
// stores a raw payer identifier: it stores the three derived forms this
// package produces (encrypted, deterministic lookup hash, masked display).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Protected carries the three derived forms of a payer identifier.
type Protected struct {
	Encrypted string
	Hash      string
	Masked    string
}

// Protector derives storable forms from plaintext identifiers.
type Protector interface {
	Protect(plaintext string) (Protected, error)
}

// Revealer recovers the plaintext identifier from its encrypted form. Only
// the notification dispatcher holds a Revealer; the ingestion path never
// decrypts.
type Revealer interface {
	Unprotect(encrypted string) (string, error)
}

// FieldProtector implements Protector with AES-256-GCM encryption and an
// HMAC-SHA256 lookup hash. The hash is deterministic so equal identifiers
// produce equal hashes and can be joined on.
type FieldProtector struct {
	aead    cipher.AEAD
	hashKey []byte
}

// NewFieldProtector builds a protector from a 32-byte encryption key and a
// separate hash key.
func NewFieldProtector(encryptionKey, hashKey []byte) (*FieldProtector, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("crypto: encryption key must be 32 bytes, got %d", len(encryptionKey))
	}
	if len(hashKey) == 0 {
		return nil, fmt.Errorf("crypto: hash key must not be empty")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return &FieldProtector{aead: aead, hashKey: hashKey}, nil
}

func (p *FieldProtector) Protect(plaintext string) (Protected, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Protected{}, fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	mac := hmac.New(sha256.New, p.hashKey)
	mac.Write([]byte(plaintext))

	return Protected{
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
		Hash:      hex.EncodeToString(mac.Sum(nil)),
		Masked:    MaskMsisdn(plaintext),
	}, nil
}

// Unprotect reverses Protect, returning the original plaintext.
func (p *FieldProtector) Unprotect(encrypted string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	if len(sealed) < p.aead.NonceSize() {
		return "", fmt.Errorf("crypto: ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:p.aead.NonceSize()], sealed[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open: %w", err)
	}
	return string(plaintext), nil
}

// MaskMsisdn keeps the country prefix and the last three digits, replacing
// the middle with asterisks. Short values are fully masked.
func MaskMsisdn(msisdn string) string {
	trimmed := strings.TrimSpace(msisdn)
	if len(trimmed) < 7 {
		return strings.Repeat("*", len(trimmed))
	}
	return trimmed[:4] + strings.Repeat("*", len(trimmed)-7) + trimmed[len(trimmed)-3:]
}
