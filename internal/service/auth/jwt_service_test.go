package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/prism-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short", TokenLifetimeMinutes: 60})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := newJWTService(testSecret, time.Hour, fixedClock(fixedTime))
	require.NoError(t, err)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, "ci-pipeline")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "ci-pipeline", claims.Subject)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(ctx, "")
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestValidateToken_Failures(t *testing.T) {
	t.Parallel()

	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := newJWTService(testSecret, time.Hour, fixedClock(issued))
	require.NoError(t, err)
	token, err := issuer.GenerateToken(context.Background(), "client")
	require.NoError(t, err)

	otherKey, err := newJWTService("another-secret-that-is-long-enough-too", time.Hour, fixedClock(issued))
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "client"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		svc     *hmacJWTService
		now     time.Time
		token   string
		wantErr error
	}{
		{"expired", issuer, issued.Add(2 * time.Hour), token, ErrExpiredToken},
		{"not yet valid", issuer, issued.Add(-time.Hour), token, ErrTokenNotYetValid},
		{"wrong key", otherKey, issued, token, ErrInvalidToken},
		{"malformed", issuer, issued, "not-a-jwt", ErrInvalidToken},
		{"unsigned", issuer, issued, noneToken, ErrInvalidToken},
		{"missing", issuer, issued, "", ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := *tt.svc
			svc.timeFunc = fixedClock(tt.now)

			_, err := svc.ValidateToken(context.Background(), tt.token)

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
