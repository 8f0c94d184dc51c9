package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/medqr-api/pkg/auth"
)

// ContextKeyOperator holds the authenticated operator name.
const ContextKeyOperator = "operator"

// OperatorTokenParser validates operator bearer tokens
type OperatorTokenParser interface {
	Parse(tokenString string) (*auth.OperatorClaims, error)
}

// AuthMiddleware protects the operator console routes
type AuthMiddleware struct {
	parser OperatorTokenParser
}

func NewAuthMiddleware(parser OperatorTokenParser) *AuthMiddleware {
	return &AuthMiddleware{parser: parser}
}

// RequireOperator accepts only "Authorization: Bearer <operator token>".
func (m *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required", "error_type": "token_missing"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}", "error_type": "token_format"})
			return
		}

		claims, err := m.parser.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			errorType := "token_invalid"
			if errors.Is(err, auth.ErrTokenExpired) {
				errorType = "token_expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "error_type": errorType})
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Next()
	}
}

// OperatorFromContext returns the operator set by RequireOperator.
func OperatorFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyOperator)
}
