package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal payload a JWTVerifier expects: enough to recover an
// Identity, nothing about roles or permissions (the core has no notion of
// those).
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"uname"`
	jwt.RegisteredClaims
}

// JWTVerifier is an optional concrete Verifier for deployments that mint
// their own HS256 tokens, grounded on the ParseToken shape used for bearer
// token verification elsewhere in the pack. It only ever verifies; issuing
// tokens is out of scope (user registration and bearer-token issuance are
// explicit Non-goals).
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthenticated
	}
	if claims.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
