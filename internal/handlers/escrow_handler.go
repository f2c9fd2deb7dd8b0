package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"escrow-backend/internal/repository"
	"escrow-backend/internal/services"
	"escrow-backend/internal/utils"
)

// ============================================================================
// Escrow Handlers
// ============================================================================
// - DepositHandler:  POST /api/escrow/deposit
// - WithdrawHandler: POST /api/escrow/withdraw
// - OptInHandler:    POST /api/escrow/opt-in
// - OptOutHandler:   POST /api/escrow/opt-out
// - GetAccountHandler: GET /api/escrow/accounts/:address
// - ListEventsHandler: GET /api/events
// ============================================================================

// EscrowHandler HTTP surface over the escrow ledger
type EscrowHandler struct {
	escrow *services.EscrowService
	events repository.EventRepository
}

// NewEscrowHandler creates a new EscrowHandler instance
func NewEscrowHandler(escrow *services.EscrowService, events repository.EventRepository) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, events: events}
}

// AmountRequest deposit/withdraw request body
type AmountRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// AddressRequest opt-in/opt-out request body
type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

// DepositHandler pulls underlying from the caller into escrow custody
// POST /api/escrow/deposit
func (h *EscrowHandler) DepositHandler(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := utils.RequireLiveAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": req.Address})
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount", "received": req.Amount})
		return
	}

	if err := h.escrow.Deposit(c.Request.Context(), user, amount); err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "address": user.Hex(), "amount": amount.String()})
}

// WithdrawHandler returns underlying asset to the caller
// POST /api/escrow/withdraw
func (h *EscrowHandler) WithdrawHandler(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := utils.RequireLiveAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": req.Address})
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount", "received": req.Amount})
		return
	}

	if err := h.escrow.Withdraw(c.Request.Context(), user, amount); err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "address": user.Hex(), "amount": amount.String()})
}

// OptInHandler converts the caller's full underlying balance to vault shares
// POST /api/escrow/opt-in
func (h *EscrowHandler) OptInHandler(c *gin.Context) {
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := utils.RequireLiveAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": req.Address})
		return
	}

	if err := h.escrow.OptIn(c.Request.Context(), user); err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	account, err := h.escrow.Account(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": account})
}

// OptOutHandler redeems the caller's full share balance back to underlying
// POST /api/escrow/opt-out
func (h *EscrowHandler) OptOutHandler(c *gin.Context) {
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := utils.RequireLiveAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": req.Address})
		return
	}

	if err := h.escrow.OptOut(c.Request.Context(), user); err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	account, err := h.escrow.Account(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": account})
}

// GetAccountHandler returns the balance book entry for an address
// GET /api/escrow/accounts/:address
func (h *EscrowHandler) GetAccountHandler(c *gin.Context) {
	user, err := utils.NormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": c.Param("address")})
		return
	}

	account, err := h.escrow.Account(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query account", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// ListEventsHandler returns recent ledger events, optionally filtered by user
// GET /api/events?user=0x...&page=1&limit=50
func (h *EscrowHandler) ListEventsHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	if userParam := c.Query("user"); userParam != "" {
		user, err := utils.NormalizeAddress(userParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": userParam})
			return
		}
		events, total, err := h.events.ListByUser(c.Request.Context(), user.Hex(), page, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query events", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "total": total, "page": page, "limit": limit})
		return
	}

	events, err := h.events.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query events", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "limit": limit})
}

// escrowErrorStatus maps service sentinel errors to HTTP status codes
func escrowErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrAlreadyOptedIn),
		errors.Is(err, services.ErrNotOptedIn),
		errors.Is(err, services.ErrAlreadyInitialized),
		errors.Is(err, services.ErrObligationPending),
		errors.Is(err, services.ErrMessageAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, services.ErrInsufficientUnderlyingBalance),
		errors.Is(err, services.ErrInsufficientShareBalance),
		errors.Is(err, services.ErrUserCannotWithdraw),
		errors.Is(err, services.ErrInsufficientConvertedAmountReceived):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTokenTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrUnauthorizedPeer):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
