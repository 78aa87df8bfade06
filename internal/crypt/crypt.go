// Package crypt is the default metadata and chunk cipher used by the client.
//
// Metadata blobs are text: a 3 character version tag followed by base64 of
// salt | nonce | ciphertext. The metadata key is stretched from a master key
// with PBKDF2-SHA512. File chunks are sealed with XChaCha20-Poly1305 under a
// random per-file key that travels inside the (encrypted) file metadata.
package crypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	VersionV2 = "002"

	saltSize       = 16
	fileKeySize    = chacha20poly1305.KeySize
	kdfIterations  = 100_000
	derivedKeyPool = 256
)

var (
	ErrUnsupportedVersion = errors.New("crypt: unsupported version")
	ErrMalformed          = errors.New("crypt: malformed ciphertext")
	ErrDecrypt            = errors.New("crypt: decryption failed")
	ErrEmptyKey           = errors.New("crypt: empty key")
)

// Cryptor caches derived keys since PBKDF2 dominates decrypt cost for small blobs
type Cryptor struct {
	derived *lru.Cache[string, []byte]
	mu      sync.Mutex
}

func New() *Cryptor {
	cache, _ := lru.New[string, []byte](derivedKeyPool)
	return &Cryptor{derived: cache}
}

func (c *Cryptor) deriveKey(masterKey string, salt []byte) []byte {
	cacheKey := masterKey + ":" + hex.EncodeToString(salt)
	if k, ok := c.derived.Get(cacheKey); ok {
		return k
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := pbkdf2.Key([]byte(masterKey), salt, kdfIterations, chacha20poly1305.KeySize, sha512.New)
	c.derived.Add(cacheKey, k)
	return k
}

// EncryptMetadata seals plaintext under masterKey using the current version
func (c *Cryptor) EncryptMetadata(plaintext []byte, masterKey string) (string, error) {
	if masterKey == "" {
		return "", ErrEmptyKey
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.deriveKey(masterKey, salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, []byte(VersionV2))
	payload := append(salt, sealed...)
	return VersionV2 + base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptMetadata opens a blob produced by EncryptMetadata
func (c *Cryptor) DecryptMetadata(blob string, masterKey string) ([]byte, error) {
	if masterKey == "" {
		return nil, ErrEmptyKey
	}
	if len(blob) < len(VersionV2) {
		return nil, ErrMalformed
	}

	version := blob[:len(VersionV2)]
	if version != VersionV2 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	payload, err := base64.StdEncoding.DecodeString(blob[len(VersionV2):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(payload) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformed
	}

	salt, rest := payload[:saltSize], payload[saltSize:]
	aead, err := chacha20poly1305.NewX(c.deriveKey(masterKey, salt))
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(version))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// NewFileKey returns a random hex encoded per-file key
func (c *Cryptor) NewFileKey() (string, error) {
	key := make([]byte, fileKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

func fileAEAD(fileKey string) (cipher.AEAD, error) {
	raw, err := hex.DecodeString(fileKey)
	if err != nil || len(raw) != fileKeySize {
		return nil, fmt.Errorf("%w: bad file key", ErrMalformed)
	}
	return chacha20poly1305.NewX(raw)
}

// EncryptChunk seals one transfer chunk as nonce | ciphertext
func (c *Cryptor) EncryptChunk(data []byte, fileKey string) ([]byte, error) {
	aead, err := fileAEAD(fileKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

func (c *Cryptor) DecryptChunk(data []byte, fileKey string) ([]byte, error) {
	aead, err := fileAEAD(fileKey)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	plain, err := aead.Open(nil, data[:aead.NonceSize()], data[aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
