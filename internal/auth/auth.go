// Package auth resolves the calling user for HTTP requests.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"stash/internal/config"
)

const userIDKey = "userId"

// Claims are the access token claims issued by the session provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Middleware puts the caller's user id in the gin context. With auth
// disabled every request belongs to cfg.DefaultUserID.
func Middleware(cfg config.AuthConfig) gin.HandlerFunc {
	if cfg.Mode != config.AuthModeJWT {
		return func(c *gin.Context) {
			c.Set(userIDKey, cfg.DefaultUserID)
			c.Next()
		}
	}

	secret := []byte(cfg.JWTSecret)
	return func(c *gin.Context) {
		tokenString := bearer(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// RequireAdmin lets through callers listed in cfg.Admins. It must run after
// Middleware. With auth disabled the single local user is the operator.
func RequireAdmin(cfg config.AuthConfig) gin.HandlerFunc {
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if cfg.Mode != config.AuthModeJWT {
			c.Next()
			return
		}
		if _, ok := admins[UserID(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// bearer reads the Authorization header, or the access_token query parameter
// for EventSource clients that cannot set headers.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		token := strings.TrimPrefix(h, "Bearer ")
		if token == h {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(c.Query("access_token"))
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs an access token for userID. Used by tests and local tooling.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// UserID returns the id set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
