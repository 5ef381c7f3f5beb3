// Package auth mints and verifies the signed room tokens handed out by the
// REST layer and presented on the websocket upgrade.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avolkov/huddle/internal/domain"
)

var (
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Claims binds an identity to one room. Host is set only on the token
// minted at room creation.
type Claims struct {
	RoomID domain.RoomID `json:"roomId"`
	Host   bool          `json:"host"`
	jwt.RegisteredClaims
}

// Tokens signs and parses room tokens with a shared HMAC secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

func (t *Tokens) Mint(uid domain.UserID, roomID domain.RoomID, host bool) (string, error) {
	now := time.Now()
	claims := Claims{
		RoomID: roomID,
		Host:   host,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(uid),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns its claims. Expired tokens map to
// ErrTokenExpired, everything else to ErrTokenInvalid.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", tok.Method.Alg())
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
