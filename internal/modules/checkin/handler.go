package checkin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kilnstudio/internal/middleware"
	"kilnstudio/internal/pkg/request"
	"kilnstudio/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/reservations/:id/check-in/validate", h.Validate)
	rg.POST("/reservations/:id/check-in", h.CheckIn)
	rg.POST("/reservations/:id/attended", middleware.StaffOnly(), h.MarkAttended)
	rg.POST("/reservations/:id/undo-check-in", middleware.StaffOnly(), h.Undo)
}

func (h *Handler) Validate(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	result, err := h.service.ValidateCheckIn(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *Handler) CheckIn(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	res, err := h.service.CheckIn(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reservation": res})
}

func (h *Handler) MarkAttended(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	res, err := h.service.MarkAttended(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reservation": res})
}

func (h *Handler) Undo(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	res, err := h.service.UndoCheckIn(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reservation": res})
}

func statusFor(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeReservationNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeInvalidStatus:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func writeError(c *gin.Context, err error) {
	if result, ok := AsRejected(err); ok {
		response.Error(c, statusFor(result.ErrorCode), string(result.ErrorCode), result.Error)
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, string(CodeReservationNotFound), err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, string(CodeUnauthorized), err.Error())
	case errors.Is(err, ErrInvalidStatus):
		response.Error(c, http.StatusConflict, string(CodeInvalidStatus), err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
