package transfer

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mhbank/bankcore/internal/validation"
)

// maxDescriptionLength caps free-text fields persisted on transactions.
const maxDescriptionLength = 500

// Handler provides HTTP endpoints for money movement.
type Handler struct {
	service *Orchestrator
}

// NewHandler creates a new transfer handler.
func NewHandler(service *Orchestrator) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up money-movement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transfers", h.CreateTransfer)
	r.POST("/transfers/verify/:challenge", h.ConfirmTransfer)
	r.POST("/deposits", h.CreateDeposit)
	r.POST("/withdrawals", h.CreateWithdrawal)
	r.POST("/bill-payments", h.CreateBillPayment)
	r.GET("/bill-payments/providers/:type", h.ListBillProviders)
}

type transferRequest struct {
	FromAccountID   string `json:"fromAccountId" binding:"required"`
	ToAccountNumber string `json:"toAccountNumber" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Description     string `json:"description"`
}

type singleLegRequest struct {
	AccountID   string `json:"accountId" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// CreateTransfer handles POST /v1/transfers
func (h *Handler) CreateTransfer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.ValidAccountNumber("toAccountNumber", req.ToAccountNumber),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, maxDescriptionLength),
	); len(verrs) > 0 {
		writeValidationErrors(c, verrs)
		return
	}

	result, err := h.service.Transfer(c.Request.Context(), userID, Request{
		FromAccountID:   req.FromAccountID,
		ToAccountNumber: req.ToAccountNumber,
		Amount:          req.Amount,
		Description:     validation.SanitizeString(req.Description, maxDescriptionLength),
	})
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ConfirmTransfer handles POST /v1/transfers/verify/:challenge
func (h *Handler) ConfirmTransfer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	result, err := h.service.Confirm(c.Request.Context(), userID, c.Param("challenge"))
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type billPaymentRequest struct {
	AccountID       string `json:"accountId" binding:"required"`
	BillType        string `json:"billType" binding:"required"`
	BillNumber      string `json:"billNumber" binding:"required"`
	ServiceProvider string `json:"serviceProvider" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Notes           string `json:"notes"`
}

// CreateBillPayment handles POST /v1/bill-payments
func (h *Handler) CreateBillPayment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req billPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("billNumber", req.BillNumber, maxDescriptionLength),
		validation.MaxLength("serviceProvider", req.ServiceProvider, maxDescriptionLength),
		validation.MaxLength("notes", req.Notes, maxDescriptionLength),
	); len(verrs) > 0 {
		writeValidationErrors(c, verrs)
		return
	}

	result, err := h.service.PayBill(c.Request.Context(), userID, BillRequest{
		AccountID:       req.AccountID,
		BillType:        BillType(req.BillType),
		BillNumber:      validation.SanitizeString(req.BillNumber, maxDescriptionLength),
		ServiceProvider: validation.SanitizeString(req.ServiceProvider, maxDescriptionLength),
		Amount:          req.Amount,
		Notes:           validation.SanitizeString(req.Notes, maxDescriptionLength),
	})
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListBillProviders handles GET /v1/bill-payments/providers/:type
func (h *Handler) ListBillProviders(c *gin.Context) {
	billType := BillType(c.Param("type"))
	providers, ok := Providers(billType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   ReasonValidationFailed,
			"message": "Unknown bill type",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"billType":  billType,
		"providers": providers,
	})
}

// CreateDeposit handles POST /v1/deposits
func (h *Handler) CreateDeposit(c *gin.Context) {
	h.singleLeg(c, h.service.Deposit)
}

// CreateWithdrawal handles POST /v1/withdrawals
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	h.singleLeg(c, h.service.Withdraw)
}

func (h *Handler) singleLeg(c *gin.Context, op func(ctx context.Context, requesterID, accountID, amount, description string) (*Result, error)) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req singleLegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, maxDescriptionLength),
	); len(verrs) > 0 {
		writeValidationErrors(c, verrs)
		return
	}

	result, err := op(c.Request.Context(), userID, req.AccountID, req.Amount,
		validation.SanitizeString(req.Description, maxDescriptionLength))
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// requireUser reads the authenticated user set by the identity middleware.
func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Missing user identity",
		})
		return "", false
	}
	return userID, true
}

// writeValidationErrors reports field-level input errors before the request
// reaches the pipeline.
func writeValidationErrors(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   ReasonValidationFailed,
		"message": errs.Error(),
		"fields":  errs,
	})
}

// writeFailure maps the failure taxonomy to HTTP responses.
func writeFailure(c *gin.Context, err error) {
	var f *Failure
	if !errors.As(err, &f) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Transfer failed",
		})
		return
	}

	body := gin.H{
		"error":   f.Code,
		"message": f.Message,
	}
	if f.Challenge != "" {
		body["challenge"] = f.Challenge
	}
	if len(f.Reasons) > 0 {
		body["reasons"] = f.Reasons
	}
	c.JSON(statusFor(f.Code), body)
}

func statusFor(code string) int {
	switch code {
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonForbidden, ReasonFraudBlocked:
		return http.StatusForbidden
	case ReasonInvalidState, ReasonVerificationRequired, ReasonStoreConflict:
		return http.StatusConflict
	case ReasonValidationFailed:
		return http.StatusBadRequest
	case ReasonLimitExceeded, ReasonInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
