package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.EncryptString("postgresql://u:pw@h/db")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "pw@h")

	again, err := enc.EncryptString("postgresql://u:pw@h/db")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ")

	plain, err := enc.DecryptString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "postgresql://u:pw@h/db", plain)
}

func TestEncryptor_Errors(t *testing.T) {
	_, err := NewEncryptor("zz")
	assert.Error(t, err)
	_, err = NewEncryptor("0011")
	assert.ErrorContains(t, err, "32 bytes")

	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	_, err = enc.DecryptString("AAAA")
	assert.ErrorContains(t, err, "too short")

	other, err := NewEncryptor(strings.Repeat("ab", 32))
	require.NoError(t, err)
	sealed, err := other.EncryptString("x")
	require.NoError(t, err)
	_, err = enc.DecryptString(sealed)
	assert.Error(t, err)
}
