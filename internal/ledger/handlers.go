package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides read-only HTTP endpoints over accounts and transactions.
type Handler struct {
	store Store
}

// NewHandler creates a new ledger handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id", h.GetAccount)
	r.GET("/accounts/:id/transactions", h.ListAccountTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// ListAccountTransactions handles GET /v1/accounts/:id/transactions
func (h *Handler) ListAccountTransactions(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	transactions, err := h.store.ListAccountTransactions(c.Request.Context(), acct.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id := c.Param("id")

	txn, err := h.store.GetTransaction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transaction",
		})
		return
	}

	legs, err := h.store.GetTransactionEntries(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transaction entries",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": txn,
		"entries":     legs,
	})
}

// ownedAccount loads the :id account and enforces requester ownership.
func (h *Handler) ownedAccount(c *gin.Context) (*Account, bool) {
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
		if errors.Is(err, ErrAccountNotFound) {
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
