package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates HMAC-signed bearer tokens and extracts claims.
type JWTValidator struct {
	secret []byte
}

// WardenClaims are the JWT claims expected by the Warden API.
type WardenClaims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// NewJWTValidator creates a validator for the given signing secret.
func NewJWTValidator(secret []byte) *JWTValidator {
	if len(secret) == 0 {
		return nil
	}
	return &JWTValidator{secret: secret}
}

// Validate parses and validates a JWT token string.
func (v *JWTValidator) Validate(tokenStr string) (*WardenClaims, error) {
	if v == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &WardenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
