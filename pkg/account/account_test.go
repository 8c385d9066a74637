package account

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, salt, err := hashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Len(t, salt, saltLength*2, "salt is hex-encoded, so twice the byte length")

	assert.True(t, VerifyPassword("correct horse battery staple", salt, hash))
	assert.False(t, VerifyPassword("wrong password", salt, hash))
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	hash1, salt1, err := hashPassword("same password")
	require.NoError(t, err)
	hash2, salt2, err := hashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2, "salts should be independently random")
	assert.NotEqual(t, hash1, hash2, "same password with different salts hashes differently")
}

func TestHashPasswordDigestsSaltBeforePassword(t *testing.T) {
	hash, salt, err := hashPassword("pw")
	require.NoError(t, err)

	saltFirst := sha512.Sum512([]byte(salt + "pw"))
	assert.Equal(t, hex.EncodeToString(saltFirst[:]), hash, "stored credentials digest salt+password, in that order")

	passwordFirst := sha512.Sum512([]byte("pw" + salt))
	assert.NotEqual(t, hex.EncodeToString(passwordFirst[:]), hash)
}

func TestVerifyPasswordWrongSaltFails(t *testing.T) {
	hash, salt, err := hashPassword("pw")
	require.NoError(t, err)
	assert.False(t, VerifyPassword("pw", salt+"00", hash))
}
