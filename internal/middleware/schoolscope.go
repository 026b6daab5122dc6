package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/vidyahub/school-api/internal/models"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
	"github.com/vidyahub/school-api/pkg/response"
)

// SchoolScope restricts non super-admin users to resources of their own
// school. When the route carries a :schoolID parameter or a school_id
// query value it must match the school on the token.
func SchoolScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, ok := value.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if claims.Role == models.RoleSuperAdmin {
			c.Next()
			return
		}
		if claims.SchoolID == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not attached to a school"))
			c.Abort()
			return
		}

		requested := c.Param("schoolID")
		if requested == "" {
			requested = c.Query("school_id")
		}
		if requested != "" && requested != *claims.SchoolID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "access to another school is not allowed"))
			c.Abort()
			return
		}

		c.Next()
	}
}
