package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("trims the secret", func(t *testing.T) {
		path := filepath.Join(dir, "APIKEY.txt")
		require.NoError(t, os.WriteFile(path, []byte("  s3cret\n"), 0o600))

		key, err := Load(path)
		require.NoError(t, err)
		assert.False(t, key.Empty())
		assert.True(t, key.Match("s3cret"))
	})

	t.Run("missing file gives an empty key", func(t *testing.T) {
		key, err := Load(filepath.Join(dir, "absent.txt"))
		require.NoError(t, err)
		assert.True(t, key.Empty())
		assert.False(t, key.Match(""))
	})

	t.Run("unreadable path", func(t *testing.T) {
		_, err := Load(dir)
		assert.Error(t, err)
	})
}

func TestMatch(t *testing.T) {
	key := NewKey("abc")

	tests := []struct {
		token string
		want  bool
	}{
		{"abc", true},
		{" abc ", true},
		{"ABC", false},
		{"ab", false},
		{"abcd", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, key.Match(tt.token), "token %q", tt.token)
	}

	assert.False(t, NewKey("   ").Match("   "))
	var nilKey *Key
	assert.False(t, nilKey.Match("abc"))
}

func TestTokens(t *testing.T) {
	key := NewKey("abc")

	token, err := key.IssueToken("ci", time.Hour)
	require.NoError(t, err)
	assert.True(t, key.ValidToken(token))

	assert.False(t, NewKey("other").ValidToken(token), "signed with another key")
	assert.False(t, key.ValidToken("not-a-jwt"))
	assert.False(t, key.ValidToken(""))

	expired, err := key.IssueToken("ci", -time.Minute)
	require.NoError(t, err)
	assert.False(t, key.ValidToken(expired))

	_, err = NewKey("").IssueToken("ci", time.Hour)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestValidTokenRequiresExpiry(t *testing.T) {
	key := NewKey("abc")
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "forever"}).SignedString([]byte("abc"))
	require.NoError(t, err)
	assert.False(t, key.ValidToken(raw))
}

func TestValidTokenRejectsOtherAlgorithms(t *testing.T) {
	key := NewKey("abc")
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("abc"))
	require.NoError(t, err)
	assert.False(t, key.ValidToken(raw))
}
