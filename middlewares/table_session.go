package middlewares

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

const tableSessionKey = "tableSession"

// sessionRef is the part of a customer payload that names its session.
type sessionRef struct {
	TableID   uint   `json:"tableId"`
	SessionID string `json:"sessionId"`
}

// TableSessionGate admits a customer call only while its table session is
// the table's open, unexpired one. The validated session is stored on the
// context for the handler.
func TableSessionGate(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !gateSession(c, sessions) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// CustomerOrStaff lets authenticated staff through untouched and gates
// everyone else on their table session. It must run after OptionalAuth.
func CustomerOrStaff(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); ok {
			c.Next()
			return
		}
		if !gateSession(c, sessions) {
			c.Abort()
			return
		}
		c.Next()
	}
}

func gateSession(c *gin.Context, sessions *services.SessionService) bool {
	var ref sessionRef
	if c.Request.ContentLength != 0 && c.ContentType() == binding.MIMEJSON {
		// ShouldBindBodyWith caches the body so the handler can bind it again.
		if err := c.ShouldBindBodyWith(&ref, binding.JSON); err != nil {
			utils.RespondAppError(c, utils.Validation("invalid request body"))
			return false
		}
	}
	if ref.TableID == 0 {
		if id, err := strconv.ParseUint(c.Query("tableId"), 10, 64); err == nil {
			ref.TableID = uint(id)
		}
	}
	if ref.SessionID == "" {
		ref.SessionID = c.Query("sessionId")
	}
	if ref.TableID == 0 {
		utils.RespondAppError(c, utils.Validation("tableId is required"))
		return false
	}

	session, err := sessions.ValidateSessionForRequest(c.Request.Context(), ref.TableID, ref.SessionID)
	if err != nil {
		utils.RespondAppError(c, err)
		return false
	}
	c.Set(tableSessionKey, session)
	return true
}

// GetTableSession returns the session validated by the gate.
func GetTableSession(c *gin.Context) (models.TableSession, bool) {
	v, ok := c.Get(tableSessionKey)
	if !ok {
		return models.TableSession{}, false
	}
	s, ok := v.(models.TableSession)
	return s, ok
}
