package availability

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kilnstudio/internal/middleware"
	"kilnstudio/internal/pkg/request"
	"kilnstudio/internal/pkg/response"
)

type Handler struct {
	calc *Calculator
}

func NewHandler(calc *Calculator) *Handler {
	return &Handler{calc: calc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/availability", h.GetSessionAvailability)
}

func (h *Handler) GetSessionAvailability(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, _ := middleware.Actor(c)

	out, err := h.calc.GetSessionAvailability(c.Request.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to calculate availability")
		return
	}
	response.Success(c, http.StatusOK, out)
}
