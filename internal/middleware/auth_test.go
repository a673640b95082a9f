package middleware

import (
	"testing"
	"time"

	"campus/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTokenConfig = TokenConfig{
	Secret:   "test-secret-key-12345678901234567890123456789012",
	Issuer:   "campus-api",
	Audience: "campus-app",
}

func TestParseToken(t *testing.T) {
	valid, err := IssueToken(testTokenConfig, 123, models.RoleInstructor, time.Hour)
	require.NoError(t, err)

	expired, err := IssueToken(testTokenConfig, 123, models.RoleStudent, -time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := IssueToken(TokenConfig{Secret: testTokenConfig.Secret, Issuer: "other", Audience: "campus-app"}, 1, models.RoleStudent, time.Hour)
	require.NoError(t, err)

	wrongSecret, err := IssueToken(TokenConfig{Secret: "nope", Issuer: "campus-api", Audience: "campus-app"}, 1, models.RoleStudent, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
		wantID  uint
		role    models.Role
	}{
		{name: "Happy Path", token: valid, wantID: 123, role: models.RoleInstructor},
		{name: "Missing", token: "", wantErr: ErrMissingToken},
		{name: "Malformed", token: "malformed.token.here", wantErr: ErrInvalidToken},
		{name: "Expired", token: expired, wantErr: ErrInvalidToken},
		{name: "Wrong Issuer", token: wrongIssuer, wantErr: ErrInvalidIssuer},
		{name: "Wrong Secret", token: wrongSecret, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			identity, err := ParseToken(testTokenConfig, tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, identity.UserID)
			assert.Equal(t, tt.role, identity.Role)
			assert.NotEmpty(t, identity.JTI)
		})
	}
}

func TestParseToken_DefaultsRoleToStudent(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "7",
		"iss": testTokenConfig.Issuer,
		"aud": testTokenConfig.Audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testTokenConfig.Secret))
	require.NoError(t, err)

	identity, err := ParseToken(testTokenConfig, signed)
	require.NoError(t, err)
	assert.Equal(t, uint(7), identity.UserID)
	assert.Equal(t, models.RoleStudent, identity.Role)
}

func TestParseToken_RejectsNonNumericSubject(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "alice",
		"iss": testTokenConfig.Issuer,
		"aud": testTokenConfig.Audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testTokenConfig.Secret))
	require.NoError(t, err)

	_, err = ParseToken(testTokenConfig, signed)
	assert.ErrorIs(t, err, ErrInvalidSubject)
}
