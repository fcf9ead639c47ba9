package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// FXHandler handles exchange-rate endpoints.
type FXHandler struct {
	rates ports.RateProvider
}

// NewFXHandler creates a new FXHandler.
func NewFXHandler(rates ports.RateProvider) *FXHandler {
	return &FXHandler{rates: rates}
}

// GetRates handles GET /api/v1/fx/rates.
func (h *FXHandler) GetRates(c *gin.Context) {
	response.OK(c, dto.FromRateSnapshot(h.rates.Rates()))
}
