package keyring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

const (
	secretV1 = "first-secret-0123456789"
	secretV2 = "second-secret-0123456789"
)

func TestKeyring_RoundTrip(t *testing.T) {
	k, err := New(map[int]string{1: secretV1})
	require.NoError(t, err)

	ct, err := k.Encrypt("gho_abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "v1:"))
	assert.NotContains(t, ct, "gho_abc123")

	pt, stale, err := k.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "gho_abc123", pt)
	assert.False(t, stale)
}

func TestKeyring_EmptyPlaintext(t *testing.T) {
	k, err := New(map[int]string{1: secretV1})
	require.NoError(t, err)

	ct, err := k.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ct)

	pt, stale, err := k.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, pt)
	assert.False(t, stale)
}

func TestKeyring_NonceIsRandom(t *testing.T) {
	k, err := New(map[int]string{1: secretV1})
	require.NoError(t, err)

	a, err := k.Encrypt("same")
	require.NoError(t, err)
	b, err := k.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyring_RotationMarksOldCiphertextStale(t *testing.T) {
	old, err := New(map[int]string{1: secretV1})
	require.NoError(t, err)
	ct, err := old.Encrypt("refresh-token")
	require.NoError(t, err)

	rotated, err := New(map[int]string{1: secretV1, 2: secretV2})
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.ActiveVersion())

	pt, stale, err := rotated.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", pt)
	assert.True(t, stale, "ciphertext from retired key should be flagged for re-encryption")

	fresh, err := rotated.Encrypt(pt)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fresh, "v2:"))
}

func TestKeyring_RetiredKeyCannotDecrypt(t *testing.T) {
	old, err := New(map[int]string{1: secretV1})
	require.NoError(t, err)
	ct, err := old.Encrypt("token")
	require.NoError(t, err)

	onlyNew, err := New(map[int]string{2: secretV2})
	require.NoError(t, err)

	_, _, err = onlyNew.Decrypt(ct)
	assert.Error(t, err)
}

func TestKeyring_TamperedVersionTagRejected(t *testing.T) {
	k, err := New(map[int]string{1: secretV1, 2: secretV1 + "x"})
	require.NoError(t, err)

	ct, err := k.Encrypt("token")
	require.NoError(t, err)

	_, _, err = k.Decrypt(strings.Replace(ct, "v2:", "v1:", 1))
	assert.Error(t, err)
}

func TestKeyring_Errors(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)

	_, err = New(map[int]string{0: secretV1})
	assert.Error(t, err)

	_, err = New(map[int]string{1: "short"})
	assert.Error(t, err)

	k, err := New(map[int]string{1: secretV1})
	require.NoError(t, err)

	_, _, err = k.Decrypt("untagged")
	assert.Error(t, err)

	_, _, err = k.Decrypt("v1:!!!notbase64")
	assert.Error(t, err)

	_, _, err = k.Decrypt("v1:AAAA")
	assert.Error(t, err)
}
