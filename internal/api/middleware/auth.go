package middleware

import (
	"net/http"
	"strings"

	"github.com/example/ec-checkout/internal/auth"
	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// ExtractToken extracts JWT token from cookie or Authorization header
func ExtractToken(r *http.Request) string {
	// Try cookie first (for browser)
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// Auth validates the access token and stores its claims on the context.
func Auth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.Request)
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole checks if the caller has one of the required roles. It must
// run after Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}

		abort(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
	}
}

// Claims retrieves the caller's claims set by Auth.
func Claims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// CustomerID is a helper to get just the customer id of the caller.
func CustomerID(c *gin.Context) string {
	claims, ok := Claims(c)
	if !ok {
		return ""
	}
	return claims.CustomerID
}
