package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

type TableController struct {
	Restaurants *services.RestaurantService
	Tables      *services.TableService
	Sessions    *services.SessionService
}

func NewTableController(restaurants *services.RestaurantService, tables *services.TableService, sessions *services.SessionService) *TableController {
	return &TableController{Restaurants: restaurants, Tables: tables, Sessions: sessions}
}

type tableBody struct {
	Name     *string          `json:"name"`
	Position *models.Position `json:"position"`
}

func (tc *TableController) GetAllTables(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, tc.Restaurants)
	if !ok {
		return
	}
	tables, err := tc.Tables.List(c.Request.Context(), restaurant.ID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

func (tc *TableController) CreateTable(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, tc.Restaurants)
	if !ok {
		return
	}
	var body tableBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	table, err := tc.Tables.Create(c.Request.Context(), restaurant.ID, services.TableInput{Name: body.Name, Position: body.Position})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

// UpdateTable renames a table or moves it on the floor plan.
func (tc *TableController) UpdateTable(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, tc.Restaurants)
	if !ok {
		return
	}
	tableID, ok := paramID(c, "tid")
	if !ok {
		return
	}
	var body tableBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondAppError(c, utils.Validation("%v", err))
		return
	}
	table, err := tc.Tables.Update(c.Request.Context(), restaurant.ID, tableID, services.TableInput{Name: body.Name, Position: body.Position})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table updated", table)
}

func (tc *TableController) DeleteTable(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, tc.Restaurants)
	if !ok {
		return
	}
	tableID, ok := paramID(c, "tid")
	if !ok {
		return
	}
	if err := tc.Tables.Delete(c.Request.Context(), restaurant.ID, tableID); err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table deleted", nil)
}

// TableQR serves the table's QR code as a PNG, ready to print.
func (tc *TableController) TableQR(c *gin.Context) {
	restaurant, _, ok := accessibleRestaurant(c, tc.Restaurants)
	if !ok {
		return
	}
	tableID, ok := paramID(c, "tid")
	if !ok {
		return
	}
	png, err := tc.Tables.QRPNG(c.Request.Context(), restaurant.ID, tableID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// VerifyTable is the first call a customer page makes after scanning.
func (tc *TableController) VerifyTable(c *gin.Context) {
	rid, ok := paramID(c, "rid")
	if !ok {
		return
	}
	tid, ok := paramID(c, "tid")
	if !ok {
		return
	}
	result, err := tc.Sessions.VerifyTable(c.Request.Context(), rid, tid)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table verified", result)
}

// tableInRestaurant checks that :tid belongs to :rid without requiring a
// principal, since customers reach these routes anonymously.
func (tc *TableController) tableInRestaurant(c *gin.Context) (models.Table, bool) {
	rid, ok := paramID(c, "rid")
	if !ok {
		return models.Table{}, false
	}
	tid, ok := paramID(c, "tid")
	if !ok {
		return models.Table{}, false
	}
	table, err := tc.Tables.Get(c.Request.Context(), rid, tid)
	if err != nil {
		utils.RespondAppError(c, err)
		return models.Table{}, false
	}
	return table, true
}

// StartSession opens a session for the table. By default it replaces any
// open one; with joinExisting it hands back the open session instead.
func (tc *TableController) StartSession(c *gin.Context) {
	table, ok := tc.tableInRestaurant(c)
	if !ok {
		return
	}
	var body struct {
		JoinExisting bool `json:"joinExisting"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondAppError(c, utils.Validation("%v", err))
			return
		}
	}

	var (
		session models.TableSession
		err     error
	)
	if body.JoinExisting {
		session, err = tc.Sessions.JoinOrCreateSession(c.Request.Context(), table.ID)
	} else {
		session, err = tc.Sessions.CreateSession(c.Request.Context(), table.ID)
	}
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session started", session)
}

// EndSession closes a session and clears its open requests. Staff may end
// the table's current session without naming it; customers must name their
// own.
func (tc *TableController) EndSession(c *gin.Context) {
	table, ok := tc.tableInRestaurant(c)
	if !ok {
		return
	}
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
			utils.RespondAppError(c, utils.Validation("%v", err))
			return
		}
	}

	reason := hub.ReasonCustomerEnd
	if _, isStaff := middlewares.GetPrincipal(c); isStaff {
		if _, _, ok := accessibleRestaurant(c, tc.Restaurants); !ok {
			return
		}
		reason = hub.ReasonAdminEnded
		if body.SessionID == "" {
			active, err := tc.Sessions.ActiveSessionFor(c.Request.Context(), table.ID)
			if err != nil {
				utils.RespondAppError(c, err)
				return
			}
			body.SessionID = active.SessionID
		}
	} else if body.SessionID == "" {
		utils.RespondAppError(c, utils.Validation("sessionId is required"))
		return
	}

	updated, err := tc.Sessions.EndSession(c.Request.Context(), table.ID, body.SessionID, reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session ended", gin.H{"updatedRequestsCount": updated})
}
