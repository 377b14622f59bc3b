// Package auth issues and verifies the JWTs that protect the operator API.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const contextKey = "user"

// ErrMissingUser is returned when the request carries no valid token subject.
var ErrMissingUser = errors.New("auth: user id missing from token")

// GenerateToken signs an HS256 token for userID valid for ttl.
func GenerateToken(userID, secret string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	if secret == "" {
		return "", time.Time{}, errors.New("auth: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":     userID,
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// JWTMiddleware validates bearer tokens; requests for which skipper returns
// true pass through unauthenticated.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		Skipper:       skipper,
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Name,
		ContextKey:    contextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token").SetInternal(err)
		},
	})
}

// UserIDFromContext returns the subject of the verified token.
func UserIDFromContext(c echo.Context) (string, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil {
		return "", ErrMissingUser
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrMissingUser
	}
	if id, _ := claims["user_id"].(string); id != "" {
		return id, nil
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	return "", ErrMissingUser
}
