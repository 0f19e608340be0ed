package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"melodia/internal/model"
	"melodia/internal/payload"
)

const (
	maxWebhookBodyBytes = int64(65536)
	defaultListLimit    = 50
	maxListLimit        = 200
)

func (h *Handlers) createTransaction(c *gin.Context) {
	var req payload.CreateTransaction
	if !bindJSON(c, h.Logger, &req) {
		return
	}

	created, err := h.Payments.CreateTransaction(c.Request.Context(), userID(c), req.Amount, req.PackageName)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusCreated, created)
}

func (h *Handlers) checkStatus(c *gin.Context) {
	var req payload.CheckStatus
	if !bindJSON(c, h.Logger, &req) {
		return
	}

	outcome, status, err := h.Payments.CheckStatus(c.Request.Context(), userID(c), req.OrderID)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusOK, gin.H{
		"orderId":           outcome.Record.OrderID,
		"status":            outcome.Record.Status,
		"transactionStatus": status.TransactionStatus,
		"fraudStatus":       status.FraudStatus,
		"creditsGranted":    outcome.CreditsGranted,
	})
}

func (h *Handlers) paymentWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)

	var n payload.Notification
	if !bindJSON(c, h.Logger, &n) {
		return
	}

	outcome, err := h.Payments.HandleNotification(c.Request.Context(), n)
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	sendSuccess(c, http.StatusOK, gin.H{
		"orderId": outcome.Record.OrderID,
		"status":  outcome.Record.Status,
	})
}

func (h *Handlers) listPayments(c *gin.Context) {
	payments, err := h.History.ListByUser(c.Request.Context(), userID(c), listLimit(c))
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}
	if payments == nil {
		payments = []*model.PaymentRecord{}
	}
	sendSuccess(c, http.StatusOK, payments)
}

func (h *Handlers) me(c *gin.Context) {
	account, err := h.Accounts.Get(c.Request.Context(), userID(c))
	if err != nil {
		sendError(c, h.Logger, err)
		return
	}

	data := gin.H{"id": account.ID, "credits": account.Credits}
	if job, ok := h.Generation.Active(account.ID); ok {
		data["activeJob"] = job
	}
	sendSuccess(c, http.StatusOK, data)
}

func listLimit(c *gin.Context) int {
	limit := cast.ToInt(c.Query("limit"))
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
