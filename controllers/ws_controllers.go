package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-service/hub"
)

type WSController struct {
	Hub *hub.Hub
}

func NewWSController(h *hub.Hub) *WSController {
	return &WSController{Hub: h}
}

// Serve upgrades /ws?sessionId=&clientType=customer|admin[&restaurantId=].
func (wc *WSController) Serve(c *gin.Context) {
	wc.Hub.ServeWS(c.Writer, c.Request)
}
