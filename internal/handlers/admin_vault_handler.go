package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/interfaces"
	"escrow-backend/internal/services"
	"escrow-backend/internal/utils"
)

// AdminVaultHandler admin-gated vault management
type AdminVaultHandler struct {
	escrow *services.EscrowService
}

// NewAdminVaultHandler creates a new AdminVaultHandler instance
func NewAdminVaultHandler(escrow *services.EscrowService) *AdminVaultHandler {
	return &AdminVaultHandler{escrow: escrow}
}

// SetVaultRequest vault swap request body
type SetVaultRequest struct {
	// Provider "static" or "http"
	Provider string `json:"provider" binding:"required"`
	Address  string `json:"address" binding:"required"`
	// Ratio shares-per-underlying (1e18 scale), for the static provider
	Ratio string `json:"ratio"`
	// URL of the remote rate source, for the http provider
	URL string `json:"url"`
}

// SetVaultHandler swaps the vault reference (admin role required, enforced
// by middleware)
// POST /api/admin/escrow/vault
func (h *AdminVaultHandler) SetVaultHandler(c *gin.Context) {
	var req SetVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	address, err := utils.RequireLiveAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidAddress.Error(), "received": req.Address})
		return
	}

	var vault interfaces.Vault
	switch req.Provider {
	case "static":
		ratio, err := utils.ParseAmount(req.Ratio)
		if err != nil || ratio.Sign() <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ratio", "received": req.Ratio})
			return
		}
		vault = clients.NewStaticVault(ratio, address)
	case "http":
		if req.URL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "URL required for http provider"})
			return
		}
		vault = clients.NewHTTPVaultClient(req.URL, address, 15*time.Second)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown vault provider", "received": req.Provider})
		return
	}

	if err := h.escrow.SetVault(c.Request.Context(), vault); err != nil {
		c.JSON(escrowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "vault": address.Hex()})
}
