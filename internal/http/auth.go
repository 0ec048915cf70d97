package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ownerIDKey is the echo context key for the authenticated owner ID.
const ownerIDKey = "authenticated_owner_id"

// ErrEmptyOwner is returned when an empty owner name is provided.
var ErrEmptyOwner = errors.New("owner name cannot be empty")

// DeriveOwnerID maps an owner name to a stable, irreversible owner ID: the
// hex-encoded SHA256 of the name.
func DeriveOwnerID(owner string) (string, error) {
	if owner == "" {
		return "", ErrEmptyOwner
	}
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:]), nil
}

// OwnerAuthMiddleware authenticates bearer tokens against tokens, a map of
// token to owner name, and stores the derived owner ID in the echo context.
// An empty map disables authentication.
func OwnerAuthMiddleware(tokens map[string]string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(tokens) == 0 {
			return next
		}
		return func(c echo.Context) error {
			presented, ok := bearerToken(c.Request())
			if !ok {
				return unauthorized(c, "missing bearer token")
			}
			owner, ok := lookupToken(tokens, presented)
			if !ok {
				return unauthorized(c, "invalid token")
			}
			ownerID, err := DeriveOwnerID(owner)
			if err != nil {
				return unauthorized(c, err.Error())
			}
			c.Set(ownerIDKey, ownerID)
			return next(c)
		}
	}
}

// OwnerIDFrom returns the owner ID set by OwnerAuthMiddleware.
func OwnerIDFrom(c echo.Context) (string, bool) {
	id, ok := c.Get(ownerIDKey).(string)
	return id, ok && id != ""
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get(echo.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// lookupToken compares against every configured token so the time taken
// does not depend on which one matched.
func lookupToken(tokens map[string]string, presented string) (string, bool) {
	var owner string
	found := false
	for token, name := range tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1 {
			owner, found = name, true
		}
	}
	return owner, found
}

func unauthorized(c echo.Context, details string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="mcpforge"`)
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]any{
			"message": "authentication failed",
			"details": details,
		},
	})
}
