package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dhawalhost/vineseal/internal/policy"
)

// subjectContextKey is the Gin context key the authenticated subject is
// stored under.
const subjectContextKey = "authSubject"

// Auth returns a Gin middleware that verifies the bearer token and stores the
// caller's subject on the context. The token is an HS256 JWT carrying the
// subject id ("sub"), role ("role") and an optional open attribute map
// ("attrs").
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		subject := policy.Subject{}
		if sub, ok := claims["sub"].(string); ok {
			subject.ID = sub
		}
		if role, ok := claims["role"].(string); ok {
			subject.Role = role
		}
		if attrs, ok := claims["attrs"].(map[string]any); ok {
			subject.Attrs = attrs
		}
		if subject.ID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// SubjectFrom returns the authenticated subject stored by Auth.
func SubjectFrom(c *gin.Context) (policy.Subject, bool) {
	v, ok := c.Get(subjectContextKey)
	if !ok {
		return policy.Subject{}, false
	}
	subject, ok := v.(policy.Subject)
	return subject, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}
	return ""
}
