package reservation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kilnstudio/internal/middleware"
	"kilnstudio/internal/pkg/request"
	"kilnstudio/internal/pkg/response"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/reservations/validate", h.Validate)
	rg.POST("/reservations", h.Create)
	rg.POST("/reservations/:id/cancel", h.Cancel)
	rg.GET("/reservations/:id/history", h.History)
	rg.GET("/registrations/:id/available-sessions", h.AvailableSessions)
	rg.POST("/sessions/:id/cancel", middleware.StaffOnly(), h.CancelSession)
}

func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, actor := middleware.Actor(c)

	result, err := h.engine.Validate(c.Request.Context(), tenantID, actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, actor := middleware.Actor(c)

	res, err := h.engine.CreateReservation(c.Request.Context(), tenantID, actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"reservation": res})
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength > 0 && !request.BindJSON(c, &req) {
		return
	}
	tenantID, actor := middleware.Actor(c)

	res, err := h.engine.CancelReservation(c.Request.Context(), tenantID, id, actor, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reservation": res})
}

func (h *Handler) History(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	rows, err := h.engine.ListHistory(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"history": rows})
}

func (h *Handler) AvailableSessions(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	list, err := h.engine.GetAvailableSessions(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": list})
}

func (h *Handler) CancelSession(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, _ := middleware.Actor(c)

	n, err := h.engine.AutoCancelSession(c.Request.Context(), tenantID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": id, "auto_cancelled": n})
}

// StatusFor maps a failed validation code to an HTTP status.
func StatusFor(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeRegistrationNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeDuplicateReservation, CodeSessionFull:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func writeError(c *gin.Context, err error) {
	if result, ok := AsRuleViolation(err); ok {
		response.Error(c, StatusFor(result.ErrorCode), string(result.ErrorCode), result.Error)
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "RESERVATION_NOT_FOUND", err.Error())
	case errors.Is(err, ErrRegistrationNotFound):
		response.Error(c, http.StatusNotFound, string(CodeRegistrationNotFound), err.Error())
	case errors.Is(err, ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, string(CodeSessionNotFound), err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, string(CodeUnauthorized), err.Error())
	case errors.Is(err, ErrInvalidStatusTransition):
		response.Error(c, http.StatusConflict, "INVALID_STATUS", err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
