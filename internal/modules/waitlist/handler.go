package waitlist

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kilnstudio/internal/middleware"
	"kilnstudio/internal/modules/booking"
	"kilnstudio/internal/pkg/request"
	"kilnstudio/internal/pkg/response"
)

type Handler struct {
	manager  *Manager
	promoter *Promoter
}

func NewHandler(manager *Manager, promoter *Promoter) *Handler {
	return &Handler{manager: manager, promoter: promoter}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/open-studio/waitlist")
	g.POST("", h.Join)
	g.DELETE("/:id", h.Leave)
	g.POST("/process", middleware.StaffOnly(), h.Process)
	g.GET("/failures", middleware.StaffOnly(), h.Failures)
}

func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, actor := middleware.Actor(c)

	entry, err := h.manager.Join(c.Request.Context(), tenantID, actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"entry": entry})
}

func (h *Handler) Leave(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	entry, err := h.manager.Leave(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": entry})
}

func (h *Handler) Process(c *gin.Context) {
	var req ProcessRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, _ := middleware.Actor(c)

	res, err := h.manager.Process(c.Request.Context(), tenantID, req.Slot())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": res})
}

func (h *Handler) Failures(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"failures": h.promoter.Failures()})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "WAITLIST_NOT_FOUND", err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "UNAUTHORIZED", err.Error())
	case errors.Is(err, ErrNotActive):
		response.Error(c, http.StatusConflict, "INVALID_STATUS", err.Error())
	case errors.Is(err, ErrSlotAvailable):
		response.Error(c, http.StatusConflict, "SLOT_AVAILABLE", err.Error())
	case errors.Is(err, ErrAlreadyWaiting):
		response.Error(c, http.StatusConflict, "ALREADY_WAITING", err.Error())
	case errors.Is(err, ErrInvalidDuration):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		status, code := booking.ErrorCode(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
			response.Error(c, status, code, "Internal server error")
			return
		}
		response.Error(c, status, code, err.Error())
	}
}
