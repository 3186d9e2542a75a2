package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID, organizerID := uuid.New(), uuid.New()

	token, err := svc.GenerateAccessToken(userID, organizerID, []string{"can_manage_gift_cards"})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, organizerID, claims.OrganizerID)
	assert.True(t, claims.HasPermission("can_manage_gift_cards"))
	assert.False(t, claims.HasPermission("can_change_orders"))
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	token, err := svc.GenerateAccessToken(uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateAccessTokenRejectsForeignSecret(t *testing.T) {
	token, err := NewService("other", time.Minute).GenerateAccessToken(uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	_, err = NewService("secret", time.Minute).ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenRequiresOrganizer(t *testing.T) {
	svc := NewService("secret", time.Minute)
	token, err := svc.GenerateAccessToken(uuid.New(), uuid.Nil, nil)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
