// Package keyring implements the TokenCipher port with versioned
// AES-256-GCM keys derived from operator-supplied secrets.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenCipher = (*Keyring)(nil)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// Keyring holds one AEAD per key version. Encrypt always uses the highest
// version; Decrypt accepts any version still present.
type Keyring struct {
	aeads  map[int]cipher.AEAD
	active int
}

// New derives an AES-256-GCM key for each (version, secret) pair using
// HKDF-SHA256. The highest version becomes the active encryption key.
// Returns driven.ErrEncryptionKeyNotSet when secrets is empty.
func New(secrets map[int]string) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	k := &Keyring{aeads: make(map[int]cipher.AEAD, len(secrets)), active: -1}
	for version, secret := range secrets {
		if version < 1 {
			return nil, fmt.Errorf("key version must be positive, got %d", version)
		}
		if len(secret) < 16 {
			return nil, fmt.Errorf("key version %d: secret must be at least 16 bytes", version)
		}

		key := make([]byte, keySize)
		info := []byte("worklog token key v" + strconv.Itoa(version))
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, info), key); err != nil {
			return nil, fmt.Errorf("derive key version %d: %w", version, err)
		}

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes.NewCipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("cipher.NewGCM: %w", err)
		}

		k.aeads[version] = gcm
		if version > k.active {
			k.active = version
		}
	}

	return k, nil
}

// ActiveVersion returns the key version used for new ciphertexts.
func (k *Keyring) ActiveVersion() int {
	return k.active
}

// Encrypt seals plaintext with the active key and returns
// "v<version>:" followed by base64(nonce || ciphertext || tag).
// An empty plaintext encrypts to an empty string.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm := k.aeads[k.active]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), versionAD(k.active))
	return "v" + strconv.Itoa(k.active) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a tagged ciphertext. stale is true when it was sealed with a
// key other than the active one.
func (k *Keyring) Decrypt(tagged string) (string, bool, error) {
	if tagged == "" {
		return "", false, nil
	}

	version, encoded, err := splitTag(tagged)
	if err != nil {
		return "", false, err
	}

	gcm, ok := k.aeads[version]
	if !ok {
		return "", false, fmt.Errorf("no key for version %d", version)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, fmt.Errorf("base64 decode: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", false, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, versionAD(version))
	if err != nil {
		return "", false, fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), version != k.active, nil
}

// versionAD binds the key version into the authentication tag so a tag
// cannot be rewritten to point at another key.
func versionAD(version int) []byte {
	return []byte("v" + strconv.Itoa(version))
}

func splitTag(tagged string) (int, string, error) {
	prefix, rest, ok := strings.Cut(tagged, ":")
	if !ok || !strings.HasPrefix(prefix, "v") {
		return 0, "", errors.New("ciphertext missing key version tag")
	}
	version, err := strconv.Atoi(prefix[1:])
	if err != nil {
		return 0, "", fmt.Errorf("invalid key version tag %q", prefix)
	}
	return version, rest, nil
}
