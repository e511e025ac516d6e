package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

// paramID reads a positive numeric path parameter, answering 400 otherwise.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.RespondAppError(c, utils.Validation("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

// accessibleRestaurant loads :rid for the authenticated principal.
func accessibleRestaurant(c *gin.Context, restaurants *services.RestaurantService) (models.Restaurant, services.Principal, bool) {
	p, ok := middlewares.GetPrincipal(c)
	if !ok {
		utils.RespondAppError(c, utils.Unauthorized("authentication required"))
		return models.Restaurant{}, p, false
	}
	rid, ok := paramID(c, "rid")
	if !ok {
		return models.Restaurant{}, p, false
	}
	r, err := restaurants.Get(c.Request.Context(), p, rid)
	if err != nil {
		utils.RespondAppError(c, err)
		return models.Restaurant{}, p, false
	}
	return r, p, true
}
