// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/cardroom/internal/models"
)

// ErrInvalidToken is returned for any token that does not verify or does not
// carry a usable identity.
var ErrInvalidToken = errors.New("invalid token")

// privateKey and publicKey are used for signing and verifying JWT tokens.
var (
	keyMu      sync.RWMutex
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long issued tokens stay valid (0 => never expire).
	tokenTTL time.Duration
)

// parseTokenExpireTime reads TOKEN_EXPIRE_TIME ("72h", "never", "0" or empty).
func parseTokenExpireTime() (time.Duration, error) {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

func setKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	ttl, err := parseTokenExpireTime()
	if err != nil {
		return err
	}
	keyMu.Lock()
	defer keyMu.Unlock()
	publicKey, privateKey, tokenTTL = pub, priv, ttl
	return nil
}

// Init generates a fresh ed25519 key pair at runtime. Tokens signed with it
// only verify inside this process, which is enough for development and tests.
func Init() error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return setKeys(pub, priv)
}

// InitFromHex configures the keys from hex strings. A seed yields the full key
// pair; a public key alone makes the process verify-only. With neither, Init
// is used.
func InitFromHex(seedHex, publicHex string) error {
	switch {
	case seedHex != "":
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return fmt.Errorf("auth key seed must be %d hex-encoded bytes", ed25519.SeedSize)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return setKeys(priv.Public().(ed25519.PublicKey), priv)
	case publicHex != "":
		pub, err := hex.DecodeString(publicHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("auth public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
		return setKeys(ed25519.PublicKey(pub), nil)
	default:
		return Init()
	}
}

// CreateJWT creates a signed JWT with "sub" = userID and a "username" claim.
func CreateJWT(userID int, username string) (string, error) {
	keyMu.RLock()
	priv, ttl := privateKey, tokenTTL
	keyMu.RUnlock()
	if priv == nil {
		return "", errors.New("auth: no signing key configured")
	}

	claims := jwt.MapClaims{
		"sub":      strconv.Itoa(userID),
		"username": username,
		"iat":      time.Now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(priv)
}

// ValidateToken verifies a JWT string and returns the identity it vouches for.
func ValidateToken(tokenString string) (models.Identity, error) {
	keyMu.RLock()
	pub := publicKey
	keyMu.RUnlock()
	if pub == nil {
		return models.Identity{}, fmt.Errorf("%w: no verification key configured", ErrInvalidToken)
	}

	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	userID, err := strconv.Atoi(sub)
	if err != nil || userID <= 0 {
		return models.Identity{}, fmt.Errorf("%w: sub is not a user id", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)
	if username == "" {
		username = "user" + sub
	}

	return models.Identity{UserID: userID, Username: username}, nil
}
