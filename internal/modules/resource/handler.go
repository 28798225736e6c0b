package resource

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
	rg.GET("/resources", h.List)
	rg.POST("/resources", middleware.StaffOnly(), h.Create)
	rg.PATCH("/resources/:id/deactivate", middleware.StaffOnly(), h.Deactivate)
}

func (h *Handler) List(c *gin.Context) {
	tenantID, _ := middleware.Actor(c)
	activeOnly := c.Query("include_inactive") != "true"

	list, err := h.service.List(c.Request.Context(), tenantID, activeOnly)
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list resources")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"resources": list})
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, _ := middleware.Actor(c)

	res, err := h.service.Create(c.Request.Context(), tenantID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"resource": res})
}

func (h *Handler) Deactivate(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, _ := middleware.Actor(c)

	res, err := h.service.Deactivate(c.Request.Context(), tenantID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"resource": res})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "RESOURCE_NOT_FOUND", err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
