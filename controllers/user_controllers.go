package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

type AuthController struct {
	Users     *services.UserService
	Issuer    *utils.TokenIssuer
	Blacklist *utils.TokenBlacklist
	// SecureCookie marks the token cookie Secure; on for HTTPS deployments.
	SecureCookie bool
}

func NewAuthController(users *services.UserService, issuer *utils.TokenIssuer, blacklist *utils.TokenBlacklist) *AuthController {
	return &AuthController{Users: users, Issuer: issuer, Blacklist: blacklist}
}

// Register creates an owner account and its first restaurant.
func (ac *AuthController) Register(c *gin.Context) {
	var req struct {
		Username       string `json:"username" binding:"required"`
		Password       string `json:"password" binding:"required"`
		Email          string `json:"email" binding:"omitempty,email"`
		RestaurantName string `json:"restaurantName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}

	user, restaurant, err := ac.Users.Register(c.Request.Context(), services.RegisterInput{
		Username:       req.Username,
		Password:       req.Password,
		Email:          req.Email,
		RestaurantName: req.RestaurantName,
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	utils.RespondJSON(c, http.StatusCreated, "User registered", gin.H{
		"user":       user,
		"restaurant": restaurant,
	})
}

// Login checks credentials, returns a token and sets it as a cookie.
func (ac *AuthController) Login(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}

	user, err := ac.Users.Authenticate(c.Request.Context(), input.Username, input.Password)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	p := services.PrincipalFor(user)
	token, err := ac.Issuer.GenerateToken(p.UserID, p.Username, p.Role, p.RestaurantID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middlewares.TokenCookie, token, int(ac.Issuer.TTL().Seconds()), "/", "", ac.SecureCookie, true)
	utils.InfoLogger.Printf("Login successful for user: %s, role: %s", user.Username, user.Role)
	utils.RespondJSON(c, http.StatusOK, "Login successful", gin.H{
		"user":  user,
		"token": token,
	})
}

// Logout revokes the current token until it would have expired anyway.
func (ac *AuthController) Logout(c *gin.Context) {
	token := middlewares.GetToken(c)
	if claims, err := ac.Issuer.ParseToken(token); err == nil {
		ac.Blacklist.Add(token, claims.ExpiresAt.Time)
	}
	c.SetCookie(middlewares.TokenCookie, "", -1, "/", "", ac.SecureCookie, true)
	utils.RespondJSON(c, http.StatusOK, "Logged out", nil)
}

// CurrentUser returns the authenticated user, or null for anonymous callers.
func (ac *AuthController) CurrentUser(c *gin.Context) {
	p, ok := middlewares.GetPrincipal(c)
	if !ok {
		utils.RespondJSON(c, http.StatusOK, "Not authenticated", nil)
		return
	}
	user, err := ac.Users.GetUser(c.Request.Context(), p.UserID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Current user", user)
}
