package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
)

type paymentWebhookRequest struct {
	ID     uuid.UUID `json:"id" binding:"required"`
	Status string    `json:"status" binding:"required"`
}

// HandlePaymentWebhook ingests asynchronous payment outcomes from the
// payment service and folds them into the ledger and the owning schedule.
// Terminal attempts are never overwritten, so replayed deliveries are
// answered with 200 and no effect.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	res, err := s.guard.AllowWebhook(c.Request.Context(), c.ClientIP())
	if err != nil {
		s.log.Warn("webhook rate limit check failed", zap.Error(err))
	} else if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"type": "rate_limited", "message": "too many requests"})
		return
	}

	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	status := ledgerdomain.AttemptStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() || status == ledgerdomain.AttemptStatusPending {
		AbortWithError(c, ledgerdomain.ErrInvalidStatus)
		return
	}

	attempt, err := s.ledgerSvc.Get(c.Request.Context(), req.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	applied, err := s.ledgerSvc.UpdateStatus(c.Request.Context(), req.ID, status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !applied {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	switch status {
	case ledgerdomain.AttemptStatusSuccess:
		err = s.scheduleSvc.ApplyPaymentOutcome(c.Request.Context(), attempt.ScheduleID, true, attempt.IsDeposit, attempt.OriginalAmount)
	case ledgerdomain.AttemptStatusFailed, ledgerdomain.AttemptStatusCanceled, ledgerdomain.AttemptStatusRefund:
		err = s.scheduleSvc.ApplyPaymentOutcome(c.Request.Context(), attempt.ScheduleID, false, attempt.IsDeposit, attempt.OriginalAmount)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
