package handler

import (
	"strconv"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WalletHandler handles wallet mutation and query endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

func userIDParam(c *gin.Context) (int64, error) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, apperror.Validation("user_id must be a positive integer")
	}
	return userID, nil
}

// Fund handles POST /api/v1/wallets/:user_id/fund.
func (h *WalletHandler) Fund(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		response.Error(c, apperror.ErrUnsupportedCurrency(req.Currency))
		return
	}

	result, err := h.walletSvc.Fund(c.Request.Context(), ports.FundRequest{
		UserID:      userID,
		Currency:    currency,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.MutationResponse{
		Message:       "Wallet funded successfully",
		TransactionID: result.TransactionID,
		Currency:      string(result.Currency),
		Amount:        result.Amount,
		NewBalance:    result.NewBalance,
	})
}

// Withdraw handles POST /api/v1/wallets/:user_id/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		response.Error(c, apperror.ErrUnsupportedCurrency(req.Currency))
		return
	}

	result, err := h.walletSvc.Withdraw(c.Request.Context(), ports.WithdrawRequest{
		UserID:      userID,
		Currency:    currency,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.MutationResponse{
		Message:       "Withdrawal processed successfully",
		TransactionID: result.TransactionID,
		Currency:      string(result.Currency),
		Amount:        result.Amount,
		NewBalance:    result.NewBalance,
	})
}

// Convert handles POST /api/v1/wallets/:user_id/convert.
func (h *WalletHandler) Convert(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	from, err := domain.ParseCurrency(req.FromCurrency)
	if err != nil {
		response.Error(c, apperror.ErrUnsupportedCurrency(req.FromCurrency))
		return
	}
	to, err := domain.ParseCurrency(req.ToCurrency)
	if err != nil {
		response.Error(c, apperror.ErrUnsupportedCurrency(req.ToCurrency))
		return
	}

	result, err := h.walletSvc.Convert(c.Request.Context(), ports.ConvertRequest{
		UserID:       userID,
		FromCurrency: from,
		ToCurrency:   to,
		Amount:       req.Amount,
		ReferenceID:  req.ReferenceID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ConvertResponse{
		Message:       "Conversion completed successfully",
		TransactionID: result.TransactionID,
		FromCurrency:  string(result.FromCurrency),
		ToCurrency:    string(result.ToCurrency),
		FromAmount:    result.FromAmount,
		ToAmount:      result.ToAmount,
		FXRate:        result.FXRate,
	})
}

// GetBalances handles GET /api/v1/wallets/:user_id/balances.
func (h *WalletHandler) GetBalances(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	balances, err := h.walletSvc.GetBalances(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.BalancesResponse{
		UserID:   userID,
		Balances: make(map[string]decimal.Decimal, len(balances)),
	}
	for currency, balance := range balances {
		resp.Balances[string(currency)] = balance
	}
	response.OK(c, resp)
}

// ListTransactions handles GET /api/v1/wallets/:user_id/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	query := ports.TransactionQuery{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(c, apperror.Validation("limit must be a non-negative integer"))
			return
		}
		query.Limit = limit
	}
	if raw := c.Query("type"); raw != "" {
		txType, err := domain.ParseTransactionType(raw)
		if err != nil {
			response.Error(c, apperror.Validation("type must be one of fund, convert, withdraw"))
			return
		}
		query.Type = &txType
	}

	txns, err := h.walletSvc.GetTransactions(c.Request.Context(), userID, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for _, t := range txns {
		items = append(items, dto.FromTransaction(t))
	}
	response.OK(c, dto.TransactionListResponse{
		UserID: userID,
		Items:  items,
		Count:  len(items),
	})
}

// GetTransaction handles GET /api/v1/wallets/:user_id/transactions/:id.
func (h *WalletHandler) GetTransaction(c *gin.Context) {
	userID, err := userIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, apperror.Validation("id must be a positive integer"))
		return
	}

	txn, err := h.walletSvc.GetTransaction(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromTransaction(*txn))
}
