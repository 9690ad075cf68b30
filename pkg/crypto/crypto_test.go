package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateTokenIsUnique(t *testing.T) {
	first, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyToken(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)

	digest := HashToken(token)
	require.NotEqual(t, token, digest)
	require.True(t, VerifyToken(token, digest))
	require.False(t, VerifyToken("other", digest))
	require.False(t, VerifyToken("", digest))
}
