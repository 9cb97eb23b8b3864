package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/tkarlsen/mealcard/internal/auth"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/pkg/errors"
	"github.com/tkarlsen/mealcard/pkg/response"
)

const (
	CtxClaimsKey     = "authClaims"
	CtxOperatorIDKey = "operatorID"
	CtxRoleKey       = "operatorRole"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxOperatorIDKey, claims.OperatorID)
		c.Set(CtxRoleKey, claims.Role)

		c.Next()
	}
}

// RequireRole rejects requests whose operator does not hold one of the
// allowed roles. Admins pass every check.
func RequireRole(roles ...models.OperatorRole) gin.HandlerFunc {
	allowed := make(map[models.OperatorRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		value, ok := c.Get(CtxRoleKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		role, ok := value.(models.OperatorRole)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		if role == models.RoleAdmin {
			c.Next()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}

// OperatorID extracts the authenticated operator id from the request
// context, if any.
func OperatorID(c *gin.Context) *string {
	value, ok := c.Get(CtxOperatorIDKey)
	if !ok {
		return nil
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return nil
	}
	return &id
}
