package hasher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashers_RoundTrip(t *testing.T) {
	variants := map[string]Hasher{
		"bcrypt": NewBcrypt(bcrypt.MinCost),
		"pbkdf2": NewPBKDF2(1000),
	}

	for name, h := range variants {
		t.Run(name, func(t *testing.T) {
			hash, salt, err := h.Hash("s3cret")
			require.NoError(t, err)

			assert.True(t, h.Verify("s3cret", hash, salt))
			assert.False(t, h.Verify("S3cret", hash, salt))
			assert.False(t, h.Verify("", hash, salt))
		})
	}
}

func TestBcrypt_SaltIsEmbedded(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)

	first, salt, err := h.Hash("pw")
	require.NoError(t, err)
	second, _, err := h.Hash("pw")
	require.NoError(t, err)

	assert.Empty(t, salt)
	assert.NotEqual(t, first, second, "each hash carries its own random salt")
}

func TestNewBcrypt_DefaultCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcrypt(0).cost)
}

func TestPBKDF2_SaltAndLength(t *testing.T) {
	h := NewPBKDF2(1000)

	hash, salt, err := h.Hash("pw")
	require.NoError(t, err)

	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	require.NoError(t, err)
	assert.Len(t, rawSalt, PBKDF2SaltLength)

	rawHash, err := base64.StdEncoding.DecodeString(hash)
	require.NoError(t, err)
	assert.Len(t, rawHash, PBKDF2KeyLength)

	_, otherSalt, err := h.Hash("pw")
	require.NoError(t, err)
	assert.NotEqual(t, salt, otherSalt)
}

func TestPBKDF2_HashWithSaltIsDeterministic(t *testing.T) {
	h := NewPBKDF2(1000)
	salt := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))

	a, err := h.HashWithSalt("pw", salt)
	require.NoError(t, err)
	b, err := h.HashWithSalt("pw", salt)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, h.Verify("pw", a, salt))
	assert.False(t, h.Verify("other", a, salt))
}

func TestPBKDF2_IterationsChangeOutput(t *testing.T) {
	salt := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))

	a, err := NewPBKDF2(1000).HashWithSalt("pw", salt)
	require.NoError(t, err)
	b, err := NewPBKDF2(1001).HashWithSalt("pw", salt)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestPBKDF2_VerifyRejectsMalformedInput(t *testing.T) {
	h := NewPBKDF2(1000)
	hash, salt, err := h.Hash("pw")
	require.NoError(t, err)

	assert.False(t, h.Verify("pw", "not base64!", salt))
	assert.False(t, h.Verify("pw", hash, "not base64!"))
	assert.False(t, h.Verify("pw", base64.StdEncoding.EncodeToString([]byte("short")), salt))
}

func TestPBKDF2_HashWithSaltRejectsBadSalt(t *testing.T) {
	_, err := NewPBKDF2(1000).HashWithSalt("pw", "%%%")
	assert.Error(t, err)
}

func TestNewPBKDF2_DefaultIterations(t *testing.T) {
	assert.Equal(t, PBKDF2Iterations, NewPBKDF2(0).iterations)
}
