package driven

import "errors"

// ErrEncryptionKeyNotSet is returned when no token encryption key has been
// configured: set WORKLOG_SECRET_KEYS.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set WORKLOG_SECRET_KEYS")

// TokenCipher encrypts credential secrets at rest. Ciphertexts are tagged
// with the key version that produced them so keys can be rotated without
// invalidating stored tokens.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)

	// Decrypt returns the plaintext and whether the ciphertext was produced by
	// a key other than the active one and should be re-encrypted.
	Decrypt(ciphertext string) (plaintext string, stale bool, err error)

	// ActiveVersion returns the version of the key used by Encrypt.
	ActiveVersion() int
}
