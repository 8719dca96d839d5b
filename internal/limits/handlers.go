package limits

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mhbank/bankcore/internal/ledger"
)

// Handler exposes per-account limit usage and configuration.
type Handler struct {
	tracker *Tracker
	store   Store
}

// NewHandler creates a new limits handler.
func NewHandler(tracker *Tracker, store Store) *Handler {
	return &Handler{tracker: tracker, store: store}
}

// RegisterRoutes sets up limit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/limits", h.GetLimits)
	r.PUT("/accounts/:id/limits", h.UpdateLimits)
}

type updateLimitsRequest struct {
	DailyLimit   *string `json:"dailyLimit"`
	MonthlyLimit *string `json:"monthlyLimit"`
}

// GetLimits handles GET /v1/accounts/:id/limits
func (h *Handler) GetLimits(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	summary, err := h.tracker.Summarize(c.Request.Context(), acct)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to summarize limits",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": summary})
}

// UpdateLimits handles PUT /v1/accounts/:id/limits
func (h *Handler) UpdateLimits(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	var req updateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.DailyLimit == nil && req.MonthlyLimit == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At least one of dailyLimit, monthlyLimit is required",
		})
		return
	}

	if err := h.tracker.UpdateLimits(c.Request.Context(), acct.ID, req.DailyLimit, req.MonthlyLimit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	updated, err := h.store.GetAccount(c.Request.Context(), acct.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to reload account",
		})
		return
	}
	summary, err := h.tracker.Summarize(c.Request.Context(), updated)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to summarize limits",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": summary})
}

func (h *Handler) ownedAccount(c *gin.Context) (*ledger.Account, bool) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Missing user identity",
		})
		return nil, false
	}

	acct, err := h.store.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load account",
		})
		return nil, false
	}
	if acct.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Account is not owned by the requester",
		})
		return nil, false
	}
	return acct, true
}
