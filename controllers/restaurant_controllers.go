package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

type RestaurantController struct {
	Restaurants *services.RestaurantService
	Users       *services.UserService
	Requests    *services.RequestService
}

func NewRestaurantController(restaurants *services.RestaurantService, users *services.UserService, requests *services.RequestService) *RestaurantController {
	return &RestaurantController{Restaurants: restaurants, Users: users, Requests: requests}
}

type restaurantBody struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

func (b restaurantBody) input() services.RestaurantInput {
	return services.RestaurantInput{Name: b.Name, Address: b.Address, Phone: b.Phone}
}

func (rc *RestaurantController) ListRestaurants(c *gin.Context) {
	p, _ := middlewares.GetPrincipal(c)
	restaurants, err := rc.Restaurants.List(c.Request.Context(), p)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of restaurants", restaurants)
}

func (rc *RestaurantController) CreateRestaurant(c *gin.Context) {
	var body restaurantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	p, _ := middlewares.GetPrincipal(c)
	r, err := rc.Restaurants.Create(c.Request.Context(), p, body.input())
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Restaurant created", r)
}

func (rc *RestaurantController) UpdateRestaurant(c *gin.Context) {
	restaurant, p, ok := accessibleRestaurant(c, rc.Restaurants)
	if !ok {
		return
	}
	var body restaurantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	r, err := rc.Restaurants.Update(c.Request.Context(), p, restaurant.ID, body.input())
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Restaurant updated", r)
}

// CreateStaff adds a staff login for the restaurant. Owners only.
func (rc *RestaurantController) CreateStaff(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, rc.Restaurants)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Email    string `json:"email" binding:"omitempty,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	user, err := rc.Users.CreateStaff(c.Request.Context(), restaurant.ID, req.Username, req.Password, req.Email)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Staff created", user)
}

// ListRequests feeds the staff dashboard. ?status= takes a comma list.
func (rc *RestaurantController) ListRequests(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, rc.Restaurants)
	if !ok {
		return
	}
	var statuses []string
	for _, s := range strings.Split(c.Query("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, s)
		}
	}
	requests, err := rc.Requests.ListRestaurantRequests(c.Request.Context(), restaurant.ID, statuses)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of requests", requests)
}
