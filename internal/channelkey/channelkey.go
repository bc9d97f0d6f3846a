// Package channelkey derives per-channel symmetric keys from a shared
// password and encrypts/decrypts channel messages (§6). Key derivation
// uses PBKDF2-HMAC-SHA256; message confidentiality uses AES-256-GCM.
package channelkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 iteration count mandated by the channel-key
	// interface contract.
	Iterations = 100_000
	// KeySize is the derived AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the AES-GCM nonce length in bytes.
	IVSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
)

var (
	ErrCiphertextTooShort = errors.New("channelkey: ciphertext shorter than iv+tag")
	ErrDecryptionFailed   = errors.New("channelkey: decryption failed")
)

// DeriveKey derives an AES-256 key from channelName and password. The salt
// is channelName's UTF-8 bytes, per the channel-key interface contract.
func DeriveKey(channelName, password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(channelName), Iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext under key, returning iv||ciphertext||tag.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	out := make([]byte, 0, IVSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a wire-framed iv||ciphertext||tag blob under key.
func Decrypt(key, framed []byte) ([]byte, error) {
	if len(framed) < IVSize+TagSize {
		return nil, ErrCiphertextTooShort
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}

	iv := framed[:IVSize]
	sealed := framed[IVSize:]
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
