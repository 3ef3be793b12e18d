package auth

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22", RoomPasswordParams)
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := CheckPassword("hunter22", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("hunter23", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = CheckPassword("anything", "")
	require.NoError(t, err)
	assert.True(t, ok, "open rooms accept any password")

	_, err = CheckPassword("x", "$argon2id$garbage")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestJWTRoundTrip(t *testing.T) {
	require.NoError(t, Init(time.Hour))

	token, err := CreateJWT("Player1")
	require.NoError(t, err)

	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "Player1", sub)

	sub, err = NewVerifier(PublicKey()).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "Player1", sub)

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, err = NewVerifier(otherPub).Verify(token)
	assert.Error(t, err)

	_, err = (*Verifier)(nil).Verify(token)
	assert.Error(t, err)
}

func TestInitFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "key")
	pubPath := filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	require.NoError(t, InitFromPath(privPath, pubPath, 0))
	assert.Equal(t, pub, PublicKey())

	require.NoError(t, os.WriteFile(pubPath, []byte("short"), 0o644))
	assert.Error(t, InitFromPath("", pubPath, 0))
}

func TestParseTokenExpireTime(t *testing.T) {
	d, err := ParseTokenExpireTime("never")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseTokenExpireTime("72h")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	_, err = ParseTokenExpireTime("soon")
	assert.Error(t, err)
}

func TestStaticAccount(t *testing.T) {
	assert.False(t, StaticAccount{Name: "Player1"}.IsAccountLinked())
	assert.True(t, StaticAccount{Name: "Player1", JWT: "t"}.IsAccountLinked())
}
