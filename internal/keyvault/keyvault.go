// Package keyvault encrypts and decrypts custodial wallet secrets.
//
// Secrets are sealed with AES-256-GCM under a process-wide master key. The
// ciphertext layout is nonce(12) | tag(16) | ciphertext, a single opaque
// byte string suitable for column storage. A constant associated-data tag
// domain-separates wallet keys from any other material sealed under the
// same master key.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	payerr "github.com/tipforge/payengine/internal/errors"
)

const (
	// KeySize is the required master key length (AES-256).
	KeySize = 32

	nonceSize = 12
	tagSize   = 16

	// aadWalletKey binds ciphertexts to the wallet-key context.
	aadWalletKey = "payengine/wallet-key/v1"
)

// Vault seals and opens wallet secrets. It is stateless aside from the
// master key and safe for concurrent use.
type Vault struct {
	key []byte
}

// New constructs a Vault from a raw 32-byte master key.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &Vault{key: key}, nil
}

// NewFromBase64 constructs a Vault from the base64-encoded form the
// configuration carries.
func NewFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	defer zero(key)
	return New(key)
}

// Encrypt seals secret under the master key with a fresh random nonce.
func (v *Vault) Encrypt(secret []byte) ([]byte, error) {
	aead, err := v.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Seal yields ciphertext | tag; the stored layout wants the tag ahead
	// of the ciphertext.
	sealed := aead.Seal(nil, nonce, secret, []byte(aadWalletKey))
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt opens a ciphertext produced by Encrypt. A tag mismatch (tampered
// data or wrong master key) returns ErrAuthentication and no plaintext.
func (v *Vault) Decrypt(encrypted []byte) ([]byte, error) {
	if len(encrypted) < nonceSize+tagSize {
		return nil, payerr.ErrAuthentication
	}

	aead, err := v.aead()
	if err != nil {
		return nil, err
	}

	nonce := encrypted[:nonceSize]
	tag := encrypted[nonceSize : nonceSize+tagSize]
	ct := encrypted[nonceSize+tagSize:]

	// Reassemble the ciphertext | tag order Open expects.
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, []byte(aadWalletKey))
	if err != nil {
		return nil, payerr.ErrAuthentication
	}
	return plaintext, nil
}

// Close zeroes the master key. The vault is unusable afterwards.
func (v *Vault) Close() {
	zero(v.key)
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

// Zero overwrites a secret buffer once the caller is done with it.
func Zero(b []byte) { zero(b) }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
