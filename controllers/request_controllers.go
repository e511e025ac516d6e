package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

type RequestController struct {
	Requests    *services.RequestService
	Restaurants *services.RestaurantService
}

func NewRequestController(requests *services.RequestService, restaurants *services.RestaurantService) *RequestController {
	return &RequestController{Requests: requests, Restaurants: restaurants}
}

// ListRequests returns a customer session's requests.
func (rc *RequestController) ListRequests(c *gin.Context) {
	tableID, err := strconv.ParseUint(c.Query("tableId"), 10, 64)
	sessionID := c.Query("sessionId")
	if err != nil || sessionID == "" {
		utils.RespondAppError(c, utils.Validation("tableId and sessionId are required"))
		return
	}
	requests, err := rc.Requests.ListSessionRequests(c.Request.Context(), uint(tableID), sessionID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of requests", requests)
}

// CreateRequest runs behind TableSessionGate.
func (rc *RequestController) CreateRequest(c *gin.Context) {
	session, ok := middlewares.GetTableSession(c)
	if !ok {
		utils.RespondAppError(c, utils.SessionInvalid("session is required"))
		return
	}
	var body struct {
		Type  string  `json:"type" binding:"required"`
		Notes *string `json:"notes"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}

	req, err := rc.Requests.CreateRequest(c.Request.Context(), session, services.CreateRequestInput{Type: body.Type, Notes: body.Notes})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Request created", req)
}

// UpdateRequest advances a request for staff, or cancels it for the
// customer session that owns it. Runs behind CustomerOrStaff.
func (rc *RequestController) UpdateRequest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	ctx := c.Request.Context()

	if p, isStaff := middlewares.GetPrincipal(c); isStaff {
		existing, err := rc.Requests.GetRequest(ctx, id)
		if err != nil {
			utils.RespondAppError(c, err)
			return
		}
		restaurantID, err := rc.Requests.RestaurantIDForTable(ctx, existing.TableID)
		if err != nil {
			utils.RespondAppError(c, err)
			return
		}
		if _, err := rc.Restaurants.Get(ctx, p, restaurantID); err != nil {
			utils.RespondAppError(c, utils.NotFound("request %d not found", id))
			return
		}
		req, err := rc.Requests.AdvanceRequest(ctx, id, body.Status)
		if err != nil {
			utils.RespondAppError(c, err)
			return
		}
		utils.RespondJSON(c, http.StatusOK, "Request updated", req)
		return
	}

	session, _ := middlewares.GetTableSession(c)
	if body.Status != models.StatusCleared {
		utils.RespondAppError(c, utils.Forbidden("customers can only cancel requests"))
		return
	}
	req, err := rc.Requests.CancelRequest(ctx, id, session)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Request cancelled", req)
}

func (rc *RequestController) SubmitFeedback(c *gin.Context) {
	var body struct {
		RequestID uint    `json:"requestId" binding:"required"`
		Rating    int     `json:"rating" binding:"required"`
		Comment   *string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	fb, err := rc.Requests.SubmitFeedback(c.Request.Context(), services.FeedbackInput{
		RequestID: body.RequestID,
		Rating:    body.Rating,
		Comment:   body.Comment,
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Feedback submitted", fb)
}
