package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"campus/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_AuthRequired(t *testing.T) {
	s := &Server{config: testConfig()}
	app := fiber.New()

	app.Get("/protected", s.AuthRequired(), func(c *fiber.Ctx) error {
		userID, role := currentUser(c)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": userID, "role": role})
	})

	generateToken := func(secret string, claims jwt.MapClaims) string {
		base := jwt.MapClaims{
			"sub": strconv.FormatUint(123, 10),
			"iss": "campus-api",
			"aud": "campus-app",
			"exp": time.Now().Add(time.Hour).Unix(),
			"jti": "test-jti-valid-length",
		}
		for k, v := range claims {
			base[k] = v
		}
		str, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, base).SignedString([]byte(secret))
		return str
	}

	tests := []struct {
		name           string
		authHeader     string
		query          string
		expectedStatus int
		expectedRole   string
		expectedError  string
	}{
		{
			name:           "Valid Token",
			authHeader:     "Bearer " + generateToken(testSecret, nil),
			expectedStatus: http.StatusOK,
			expectedRole:   "student",
		},
		{
			name:           "Role Claim",
			authHeader:     "Bearer " + generateToken(testSecret, jwt.MapClaims{"role": "instructor"}),
			expectedStatus: http.StatusOK,
			expectedRole:   "instructor",
		},
		{
			name:           "Unknown Role Falls Back To Student",
			authHeader:     "Bearer " + generateToken(testSecret, jwt.MapClaims{"role": "superuser"}),
			expectedStatus: http.StatusOK,
			expectedRole:   "student",
		},
		{
			name:           "Token In Query Param Is Ignored",
			query:          "?token=" + generateToken(testSecret, nil),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "Authorization required",
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + generateToken(testSecret, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "Invalid or expired token",
		},
		{
			name:           "Invalid Issuer",
			authHeader:     "Bearer " + generateToken(testSecret, jwt.MapClaims{"iss": "wrong-issuer"}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Audience",
			authHeader:     "Bearer " + generateToken(testSecret, jwt.MapClaims{"aud": "wrong-audience"}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Secret",
			authHeader:     "Bearer " + generateToken("another-secret-another-secret-another", nil),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Non Numeric Subject",
			authHeader:     "Bearer " + generateToken(testSecret, jwt.MapClaims{"sub": "abc"}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing Header",
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "Authorization required",
		},
		{
			name:           "Malformed Bearer Format",
			authHeader:     "Token abc",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected"+tt.query, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			if tt.expectedStatus == http.StatusOK {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, float64(123), body["userID"])
				assert.Equal(t, tt.expectedRole, body["role"])
				return
			}

			var body models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, models.CodeUnauthorized, body.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, body.Error)
			}
		})
	}
}
