package handlers

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"escrow-backend/internal/services"
	"escrow-backend/internal/types"
	"escrow-backend/internal/utils"
)

// SettlementHandler HTTP surface over the settlement node
type SettlementHandler struct {
	node *services.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler instance
func NewSettlementHandler(node *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{node: node}
}

// QuoteRequest fee quote request body
type QuoteRequest struct {
	DstEid        uint32 `json:"dst_eid" binding:"required"`
	Recipient     string `json:"recipient" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Options       string `json:"options"`
	PayInAltAsset bool   `json:"pay_in_alt_asset"`
}

// SendRequest transfer dispatch request body
type SendRequest struct {
	DstEid    uint32 `json:"dst_eid" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Options   string `json:"options"`
	// Fee attached by the caller, as quoted
	NativeFee string `json:"native_fee" binding:"required"`
	AltFee    string `json:"alt_fee"`
}

// SetPeerRequest peer registration request body (admin)
type SetPeerRequest struct {
	Eid      uint32 `json:"eid" binding:"required"`
	Identity string `json:"identity" binding:"required"`
}

// QuoteHandler returns the dispatch fee for a transfer. Read-only.
// POST /api/settlement/quote
func (h *SettlementHandler) QuoteHandler(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	payload, err := h.encodeTransfer(req.Recipient, req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fee, err := h.node.Quote(req.DstEid, payload, []byte(req.Options), req.PayInAltAsset)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Quote failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"native_fee": fee.NativeFee.String(),
		"alt_fee":    fee.AltFee.String(),
	})
}

// SendHandler dispatches a transfer and records the obligation
// POST /api/settlement/send
func (h *SettlementHandler) SendHandler(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	payload, err := h.encodeTransfer(req.Recipient, req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nativeFee, ok := new(big.Int).SetString(req.NativeFee, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid native_fee", "received": req.NativeFee})
		return
	}
	altFee := big.NewInt(0)
	if req.AltFee != "" {
		if altFee, ok = new(big.Int).SetString(req.AltFee, 10); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alt_fee", "received": req.AltFee})
			return
		}
	}

	guid, err := h.node.Send(c.Request.Context(), req.DstEid, payload, []byte(req.Options), &types.Fee{
		NativeFee: nativeFee,
		AltFee:    altFee,
	})
	if err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "guid": guid.Hex()})
}

// AccountingHandler returns the outstanding obligation for a recipient
// GET /api/settlement/accounting/:recipient
func (h *SettlementHandler) AccountingHandler(c *gin.Context) {
	recipient, err := utils.NormalizeAddress(c.Param("recipient"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "received": c.Param("recipient")})
		return
	}

	amount, err := h.node.Accounting(c.Request.Context(), recipient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query obligation", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipient": recipient.Hex(),
		"amount":    amount.String(),
	})
}

// SetPeerHandler registers the trusted sender for a remote endpoint (admin)
// POST /api/admin/settlement/peers
func (h *SettlementHandler) SetPeerHandler(c *gin.Context) {
	var req SetPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	identity, err := utils.RequireLiveAddress(req.Identity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid identity", "received": req.Identity})
		return
	}

	if err := h.node.SetPeer(req.Eid, identity); err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"eid":      strconv.FormatUint(uint64(req.Eid), 10),
		"identity": identity.Hex(),
	})
}

func (h *SettlementHandler) encodeTransfer(recipientHex, amountStr string) ([]byte, error) {
	recipient, err := utils.RequireLiveAddress(recipientHex)
	if err != nil {
		return nil, err
	}
	amount, err := utils.ParseAmount(amountStr)
	if err != nil {
		return nil, err
	}
	return types.EncodeTransferPayload(recipient, amount)
}
