// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// privateKey and publicKey sign and verify account tokens for the lobby service.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long issued tokens live (0 => never expire).
	tokenTTL time.Duration
)

// ParseTokenExpireTime parses a TOKEN_EXPIRE_TIME value. "", "0" and "never"
// mean tokens never expire.
func ParseTokenExpireTime(s string) (time.Duration, error) {
	switch strings.TrimSpace(s) {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Init generates a fresh ed25519 key pair at runtime.
func Init(ttl time.Duration) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	tokenTTL = ttl
	return nil
}

// InitFromPath reads raw ed25519 keys from disk. The private key path may be
// empty for processes that only verify tokens.
func InitFromPath(privatePath, publicPath string, ttl time.Duration) error {
	if privatePath != "" {
		data, err := os.ReadFile(privatePath)
		if err != nil {
			return fmt.Errorf("failed to read private key file: %w", err)
		}
		if len(data) != ed25519.PrivateKeySize {
			return fmt.Errorf("private key file %s: want %d bytes, got %d", privatePath, ed25519.PrivateKeySize, len(data))
		}
		privateKey = ed25519.PrivateKey(data)
	}

	pub, err := ReadPublicKey(publicPath)
	if err != nil {
		return err
	}
	publicKey = pub
	tokenTTL = ttl
	return nil
}

// ReadPublicKey loads a raw ed25519 public key file.
func ReadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key file %s: want %d bytes, got %d", path, ed25519.PublicKeySize, len(data))
	}
	return ed25519.PublicKey(data), nil
}

// PublicKey returns the key account tokens are verified with.
func PublicKey() ed25519.PublicKey {
	return publicKey
}

// CreateJWT issues an account token with "sub" = username.
func CreateJWT(username string) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth: signing key not initialized")
	}
	claims := jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
	}
	if tokenTTL > 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token against the package key and returns its
// subject.
func AuthenticateJWT(tokenString string) (string, error) {
	return NewVerifier(publicKey).Verify(tokenString)
}

// Verifier checks account tokens with a public key only. Room servers use it
// to resolve a member's forum username.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier returns a Verifier for key.
func NewVerifier(key ed25519.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// Verify returns the username carried by tokenString.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if v == nil || len(v.key) == 0 {
		return "", errors.New("auth: verification key not initialized")
	}
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return sub, nil
}
