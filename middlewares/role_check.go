package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/utils"
)

// RoleCheck lets through principals holding one of the given roles. It must
// run after AuthMiddleware.
func RoleCheck(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			utils.RespondAppError(c, utils.Unauthorized("authentication required"))
			c.Abort()
			return
		}

		for _, role := range roles {
			if p.Role == role {
				c.Next()
				return
			}
		}
		utils.RespondAppError(c, utils.Forbidden("%s access required", roles[0]))
		c.Abort()
	}
}
