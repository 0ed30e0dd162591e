// SPDX-License-Identifier: Apache-2.0
// Package core - shared security primitives.
//
// Exposes XChaCha20-Poly1305 authenticated encryption for the key
// envelope's asymmetric wrap step and symmetric payload layer (see
// key_envelope.go). All crypto comes from the Go standard library plus
// golang.org/x/crypto.
package core

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

//---------------------------------------------------------------------
// Encryption - XChaCha20-Poly1305
//---------------------------------------------------------------------

// Encrypt returns nonce || ciphertext || tag using XChaCha20-Poly1305. Used
// for the asymmetric per-member wrap step where only a round-trip property
// is required, so a random nonce is appropriate.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, ct...), nil
}

// Decrypt verifies and opens a blob produced by Encrypt.
func Decrypt(key, blob, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

// EncryptDeterministic seals plaintext with a caller-supplied nonce instead
// of a random one, used by the key envelope's symmetric payload layer where
// §8's round-trip law requires repeatable ciphertexts for identical inputs.
func EncryptDeterministic(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("nonce must be 24 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(append([]byte(nil), nonce...), ct...), nil
}
