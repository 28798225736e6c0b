package booking

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kilnstudio/internal/middleware"
	"kilnstudio/internal/modules/entitlement"
	"kilnstudio/internal/pkg/request"
	"kilnstudio/internal/pkg/response"
	"kilnstudio/internal/pkg/slotlock"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/open-studio")
	g.GET("/bookings", h.ListMine)
	g.GET("/bookings/:id", h.GetBooking)
	g.POST("/bookings", h.CreateBooking)
	g.POST("/bookings/:id/cancel", h.CancelBooking)
	g.POST("/bookings/:id/check-in", middleware.StaffOnly(), h.CheckIn)
	g.POST("/walk-ins", h.WalkIn)
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, actor := middleware.Actor(c)

	b, err := h.engine.CreateBooking(c.Request.Context(), tenantID, actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booking": b})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	b, err := h.engine.CancelBooking(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) CheckIn(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	b, err := h.engine.CheckIn(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) WalkIn(c *gin.Context) {
	var req WalkInRequest
	if !request.BindJSON(c, &req) {
		return
	}
	tenantID, actor := middleware.Actor(c)

	b, err := h.engine.WalkInCheckIn(c.Request.Context(), tenantID, actor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booking": b})
}

func (h *Handler) GetBooking(c *gin.Context) {
	id, ok := request.ParamID(c, "id")
	if !ok {
		return
	}
	tenantID, actor := middleware.Actor(c)

	b, err := h.engine.GetBooking(c.Request.Context(), tenantID, id, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

// ListMine lists the caller's bookings. Staff may pass customer_id to look
// at someone else's.
func (h *Handler) ListMine(c *gin.Context) {
	tenantID, actor := middleware.Actor(c)

	customerID, ok := request.QueryID(c, "customer_id")
	if !ok {
		return
	}
	if customerID == 0 {
		customerID = actor.UserID
	}
	if !actor.Owns(customerID) {
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Cannot list another customer's bookings")
		return
	}

	list, err := h.engine.ListForCustomer(c.Request.Context(), tenantID, customerID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"bookings": list})
}

// ErrorCode maps engine errors to the stable codes returned to clients.
// It is shared with the waitlist handler, which surfaces booking failures.
func ErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "BOOKING_NOT_FOUND"
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound, "RESOURCE_NOT_FOUND"
	case errors.Is(err, entitlement.ErrSubscriptionNotFound),
		errors.Is(err, entitlement.ErrPunchPassNotFound):
		return http.StatusNotFound, "ENTITLEMENT_NOT_FOUND"
	case errors.Is(err, ErrForbidden), errors.Is(err, entitlement.ErrEntitlementNotOwned):
		return http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "BOOKING_CONFLICT"
	case errors.Is(err, ErrInvalidStatusTransition):
		return http.StatusConflict, "INVALID_STATUS"
	case errors.Is(err, ErrCustomerSuspended):
		return http.StatusUnprocessableEntity, "CUSTOMER_SUSPENDED"
	case errors.Is(err, entitlement.ErrMissingEntitlement):
		return http.StatusBadRequest, "MISSING_ENTITLEMENT"
	case errors.Is(err, entitlement.ErrSubscriptionInactive):
		return http.StatusUnprocessableEntity, "SUBSCRIPTION_INACTIVE"
	case errors.Is(err, entitlement.ErrPunchPassExpired):
		return http.StatusUnprocessableEntity, "PUNCH_PASS_EXPIRED"
	case errors.Is(err, entitlement.ErrNoPunchesRemaining):
		return http.StatusUnprocessableEntity, "NO_PUNCHES_REMAINING"
	case errors.Is(err, ErrBlockTooLong):
		return http.StatusUnprocessableEntity, "BLOCK_TOO_LONG"
	case errors.Is(err, ErrWeeklyLimitReached):
		return http.StatusUnprocessableEntity, "WEEKLY_LIMIT_REACHED"
	case errors.Is(err, ErrOutsideBookingWindow):
		return http.StatusUnprocessableEntity, "OUTSIDE_BOOKING_WINDOW"
	case errors.Is(err, ErrWalkInNotAllowed):
		return http.StatusUnprocessableEntity, "WALK_IN_NOT_ALLOWED"
	case errors.Is(err, ErrSessionCancelled):
		return http.StatusUnprocessableEntity, "SESSION_CANCELLED"
	case errors.Is(err, ErrResourceInactive):
		return http.StatusUnprocessableEntity, "RESOURCE_INACTIVE"
	case IsRuleViolation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, slotlock.ErrBusy):
		return http.StatusServiceUnavailable, "SLOT_BUSY"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeError(c *gin.Context, err error) {
	status, code := ErrorCode(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		response.Error(c, status, code, "Internal server error")
		return
	}
	response.Error(c, status, code, err.Error())
}
