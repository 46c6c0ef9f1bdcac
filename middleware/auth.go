package middleware

import (
	"errors"
	"net/http"
	"strings"

	"financerag/internal/auth"
	"financerag/internal/logger"
	"financerag/utils"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware checks admin tokens issued by `migrate issue-admin-token`.
type AuthMiddleware struct {
	issuer *auth.Issuer
}

func NewAuthMiddleware(issuer *auth.Issuer) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer}
}

// OptionalAdmin records admin claims when a valid token is presented and
// lets anonymous requests through. A token that is present but invalid is
// rejected rather than silently downgraded.
func (a *AuthMiddleware) OptionalAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			c.Next()
			return
		}
		if !a.authenticate(c, tokenString) {
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without a valid admin token.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Admin token is required")
			c.Abort()
			return
		}
		if !a.authenticate(c, tokenString) {
			return
		}
		c.Next()
	}
}

func (a *AuthMiddleware) authenticate(c *gin.Context, tokenString string) bool {
	claims, err := a.issuer.ValidateAdminToken(c.Request.Context(), tokenString)
	switch {
	case err == nil:
		c.Set(claimsKey, claims)
		return true
	case errors.Is(err, auth.ErrNotAdmin):
		utils.RespondWithError(c, http.StatusForbidden, "forbidden", "Admin role required", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrRevokedToken):
		utils.RespondWithUnauthorized(c, "Invalid or expired token")
	default:
		logger.Error("Token validation failed", "error", err, "request_id", GetRequestID(c))
		utils.RespondWithInternalError(c, "Failed to validate token", nil)
	}
	c.Abort()
	return false
}

// IsAdmin reports whether the request carried a valid admin token.
func IsAdmin(c *gin.Context) bool {
	v, ok := c.Get(claimsKey)
	if !ok {
		return false
	}
	claims, ok := v.(*auth.Claims)
	return ok && claims.Role == auth.RoleAdmin
}

// ExtractToken returns the token of a "Bearer <token>" header value.
func ExtractToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
