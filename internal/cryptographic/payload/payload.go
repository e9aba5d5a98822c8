// Package payload provides client-side sealing of note details. The
// server never touches these: details stay opaque bytes on the wire.
package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	hybridInfo = "miden-note-transport/hybrid/v1"
)

// Seal encrypts plaintext with AES-256-GCM under key, binding aad.
// Output is nonce || ciphertext.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, aad)...), nil
}

// Open reverses Seal.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("sealed payload too short")
	}
	plain, err := aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// NewKeyPair generates an X25519 key pair for hybrid sealing.
func NewKeyPair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// SealHybrid encrypts plaintext to the recipient's X25519 public key:
// an ephemeral DH share, HKDF-SHA256 key derivation, then AES-256-GCM.
// Output is ephemeral_pub || nonce || ciphertext.
func SealHybrid(recipientPub [32]byte, plaintext, aad []byte) ([]byte, error) {
	ephPriv, ephPub, err := NewKeyPair()
	if err != nil {
		return nil, err
	}
	key, err := hybridKey(ephPriv, recipientPub, ephPub)
	if err != nil {
		return nil, err
	}
	sealed, err := Seal(key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(ephPub[:], sealed...), nil
}

// OpenHybrid reverses SealHybrid with the recipient's private key.
func OpenHybrid(recipientPriv [32]byte, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < 32 {
		return nil, fmt.Errorf("hybrid payload too short")
	}
	var ephPub [32]byte
	copy(ephPub[:], sealed[:32])

	key, err := hybridKey(recipientPriv, ephPub, ephPub)
	if err != nil {
		return nil, err
	}
	return Open(key, sealed[32:], aad)
}

// hybridKey derives the AEAD key from the DH shared secret, salted
// with the ephemeral share so each sealing uses a distinct key.
func hybridKey(priv, pub, ephPub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	key := make([]byte, KeySize)
	h := hkdf.New(sha256.New, secret, ephPub[:], []byte(hybridInfo))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
