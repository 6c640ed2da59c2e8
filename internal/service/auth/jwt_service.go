// Package auth issues and verifies the bearer tokens that protect the API.
// Tokens are HS256-signed JWTs whose subject names the calling client.
package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing JWT authentication tokens.
type JWTService interface {
	// GenerateToken creates a signed access token for subject.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken verifies tokenString and returns its claims, or
	// ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
