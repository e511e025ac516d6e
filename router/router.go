package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/controllers"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

// Dependencies is everything the HTTP surface needs.
type Dependencies struct {
	Users       *services.UserService
	Restaurants *services.RestaurantService
	Tables      *services.TableService
	Sessions    *services.SessionService
	Requests    *services.RequestService
	Hub         *hub.Hub
	Issuer      *utils.TokenIssuer
	Blacklist   *utils.TokenBlacklist

	// Limiter guards request creation; AuthLimiter guards login and
	// registration. Nil disables the corresponding limit.
	Limiter     *middlewares.RateLimiter
	AuthLimiter *middlewares.RateLimiter

	SecureCookie bool
}

func SetupRouter(d Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.LoggerMiddleware())
	r.Use(middlewares.SecurityHeaders())

	authCtrl := controllers.NewAuthController(d.Users, d.Issuer, d.Blacklist)
	authCtrl.SecureCookie = d.SecureCookie
	restaurantCtrl := controllers.NewRestaurantController(d.Restaurants, d.Users, d.Requests)
	tableCtrl := controllers.NewTableController(d.Restaurants, d.Tables, d.Sessions)
	requestCtrl := controllers.NewRequestController(d.Requests, d.Restaurants)
	wsCtrl := controllers.NewWSController(d.Hub)

	auth := middlewares.AuthMiddleware(d.Issuer, d.Blacklist)
	optionalAuth := middlewares.OptionalAuth(d.Issuer, d.Blacklist)
	ownerOnly := middlewares.RoleCheck(models.RoleOwner)

	r.GET("/health", func(c *gin.Context) {
		utils.RespondJSON(c, http.StatusOK, "ok", gin.H{"connections": d.Hub.Count()})
	})
	r.GET("/ws", wsCtrl.Serve)

	api := r.Group("/api")
	{
		public := api.Group("")
		if d.AuthLimiter != nil {
			public.Use(d.AuthLimiter.RateLimit())
		}
		public.POST("/register", authCtrl.Register)
		public.POST("/login", authCtrl.Login)

		api.POST("/logout", auth, authCtrl.Logout)
		api.GET("/user", optionalAuth, authCtrl.CurrentUser)

		// Customer-facing: reached anonymously from a scanned QR code.
		api.GET("/restaurants/:rid/tables/:tid/verify", tableCtrl.VerifyTable)
		api.POST("/restaurants/:rid/tables/:tid/sessions", tableCtrl.StartSession)
		api.POST("/restaurants/:rid/tables/:tid/sessions/end", optionalAuth, tableCtrl.EndSession)

		requests := api.Group("/requests")
		{
			requests.GET("", requestCtrl.ListRequests)
			createChain := []gin.HandlerFunc{}
			if d.Limiter != nil {
				createChain = append(createChain, d.Limiter.RateLimit())
			}
			createChain = append(createChain, middlewares.TableSessionGate(d.Sessions), requestCtrl.CreateRequest)
			requests.POST("", createChain...)
			requests.PATCH("/:id", optionalAuth, middlewares.CustomerOrStaff(d.Sessions), requestCtrl.UpdateRequest)
		}
		api.POST("/feedback", requestCtrl.SubmitFeedback)

		// Staff and owner dashboard
		restaurants := api.Group("/restaurants", auth)
		{
			restaurants.GET("", restaurantCtrl.ListRestaurants)
			restaurants.POST("", ownerOnly, restaurantCtrl.CreateRestaurant)
			restaurants.PATCH("/:rid", ownerOnly, restaurantCtrl.UpdateRestaurant)
			restaurants.POST("/:rid/staff", ownerOnly, restaurantCtrl.CreateStaff)
			restaurants.GET("/:rid/requests", restaurantCtrl.ListRequests)

			restaurants.GET("/:rid/tables", tableCtrl.GetAllTables)
			restaurants.POST("/:rid/tables", tableCtrl.CreateTable)
			restaurants.PATCH("/:rid/tables/:tid", tableCtrl.UpdateTable)
			restaurants.DELETE("/:rid/tables/:tid", tableCtrl.DeleteTable)
			restaurants.GET("/:rid/tables/:tid/qr", tableCtrl.TableQR)
		}
	}

	return r
}
