package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndValidate(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "1h")
	require.NoError(t, Init())

	token, err := CreateJWT(42, "alice")
	require.NoError(t, err)

	id, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, id.UserID)
	assert.Equal(t, "alice", id.Username)
}

func TestValidateRejectsGarbageAndForeignKeys(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "")
	require.NoError(t, Init())
	token, err := CreateJWT(1, "bob")
	require.NoError(t, err)

	_, err = ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// rotate keys: the old token no longer verifies
	require.NoError(t, Init())
	_, err = ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredAndBadSubject(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "")
	seed := strings.Repeat("ab", ed25519.SeedSize)
	require.NoError(t, InitFromHex(seed, ""))

	raw, _ := hex.DecodeString(seed)
	priv := ed25519.NewKeyFromSeed(raw)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "7",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(priv)
	require.NoError(t, err)
	_, err = ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badSub, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": "abc"}).SignedString(priv)
	require.NoError(t, err)
	_, err = ValidateToken(badSub)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noName, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": "7"}).SignedString(priv)
	require.NoError(t, err)
	id, err := ValidateToken(noName)
	require.NoError(t, err)
	assert.Equal(t, "user7", id.Username)
}

func TestInitFromHexPublicOnly(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "")
	seed := strings.Repeat("01", ed25519.SeedSize)
	require.NoError(t, InitFromHex(seed, ""))
	token, err := CreateJWT(3, "carol")
	require.NoError(t, err)

	raw, _ := hex.DecodeString(seed)
	pub := ed25519.NewKeyFromSeed(raw).Public().(ed25519.PublicKey)
	require.NoError(t, InitFromHex("", hex.EncodeToString(pub)))

	id, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 3, id.UserID)

	_, err = CreateJWT(3, "carol")
	assert.Error(t, err, "verify-only processes cannot sign")

	assert.Error(t, InitFromHex("zz", ""))
	assert.Error(t, InitFromHex("", "abcd"))
}

func TestBadExpireTime(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "soon")
	assert.Error(t, Init())
}
