package middleware

import (
	"net/http"
	"strings"

	"ridedispatch/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthRequired validates the bearer token and sets user_id and user_type on
// the context. Browsers cannot set headers on a websocket handshake, so the
// token is also accepted as a "token" query parameter.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required")
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "INVALID_TOKEN", err.Error())
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_type", claims.UserType)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

// DriverRequired middleware ensures user is a driver
func DriverRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypeDriver, "Driver access required")
}

// RiderRequired middleware ensures user is a rider
func RiderRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypeRider, "Rider access required")
}

func requireUserType(want, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType, exists := c.Get("user_type")
		if !exists {
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		if s, ok := userType.(string); !ok || s != want {
			utils.ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", message)
			c.Abort()
			return
		}

		c.Next()
	}
}

// CurrentUser returns the authenticated user set by AuthRequired.
func CurrentUser(c *gin.Context) (primitive.ObjectID, string, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		return primitive.NilObjectID, "", false
	}
	userID, ok := value.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, "", false
	}
	return userID, c.GetString("user_type"), true
}
