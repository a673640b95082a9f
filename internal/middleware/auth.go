package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"campus/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token validation failures.
var (
	ErrMissingToken   = errors.New("authorization required")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrInvalidIssuer  = errors.New("invalid token issuer")
	ErrInvalidAud     = errors.New("invalid token audience")
	ErrInvalidSubject = errors.New("invalid subject claim")
)

// TokenConfig carries the values needed to issue and verify access tokens.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID uint
	Role   models.Role
	JTI    string
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *fiber.Ctx) string {
	parts := strings.Split(c.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// ParseToken verifies an HS256 access token and returns the caller identity.
func ParseToken(cfg TokenConfig, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if cfg.Issuer != "" {
		if issuer, _ := claims["iss"].(string); issuer != cfg.Issuer {
			return Identity{}, ErrInvalidIssuer
		}
	}
	if cfg.Audience != "" {
		if audience, _ := claims["aud"].(string); audience != cfg.Audience {
			return Identity{}, ErrInvalidAud
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return Identity{}, ErrInvalidSubject
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return Identity{}, ErrInvalidSubject
	}

	role, _ := claims["role"].(string)
	jti, _ := claims["jti"].(string)

	return Identity{UserID: uint(userID), Role: models.ParseRole(role), JTI: jti}, nil
}

// IssueToken signs an access token for the given user and role.
func IssueToken(cfg TokenConfig, userID uint, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatUint(uint64(userID), 10),
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"jti":  uuid.NewString(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
