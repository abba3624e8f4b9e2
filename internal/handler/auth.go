package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/easeaico/project-kairos/internal/apperr"
)

const ownerKey = "owner_id"

// Authenticator validates HS256 bearer tokens. The sub claim is the owner.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Owner parses the token and returns its subject.
func (a *Authenticator) Owner(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid or expired token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			RespondError(c, apperr.New(apperr.Unauthenticated, "auth", "missing or invalid token"))
			return
		}
		owner, err := a.Owner(token)
		if err != nil {
			RespondError(c, apperr.New(apperr.Unauthenticated, "auth", err.Error()))
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// OwnerID returns the authenticated owner, or "".
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}
