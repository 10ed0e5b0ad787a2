package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
	"github.com/payflowhq/payflow/internal/schedule/projection"
)

type createScheduleRequest struct {
	CounterpartAccountID  string     `json:"counterpart_account_id" binding:"required"`
	Purpose               string     `json:"purpose" binding:"required"`
	Cadence               string     `json:"cadence" binding:"required"`
	StartDate             time.Time  `json:"start_date" binding:"required"`
	DepositAmount         *int64     `json:"deposit_amount"`
	DepositDate           *time.Time `json:"deposit_date"`
	PaymentAmount         int64      `json:"payment_amount" binding:"required"`
	FeeAmount             int64      `json:"fee_amount"`
	Currency              string     `json:"currency" binding:"required"`
	NumberOfPayments      int        `json:"number_of_payments" binding:"required"`
	FundingSourceID       uuid.UUID  `json:"funding_source_id" binding:"required"`
	BackupFundingSourceID *uuid.UUID `json:"backup_funding_source_id"`
	PayeeID               uuid.UUID  `json:"payee_id" binding:"required"`
}

func (s *Server) CreateSchedule(c *gin.Context) {
	actor, err := s.actor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	counterpart, err := snowflake.ParseString(req.CounterpartAccountID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sched, err := s.scheduleSvc.Create(c.Request.Context(), scheduledomain.CreateScheduleRequest{
		OwnerAccountID:        actor,
		CounterpartAccountID:  counterpart,
		Purpose:               scheduledomain.SchedulePurpose(req.Purpose),
		Cadence:               scheduledomain.Cadence(req.Cadence),
		StartDate:             req.StartDate,
		DepositAmount:         req.DepositAmount,
		DepositDate:           req.DepositDate,
		PaymentAmount:         req.PaymentAmount,
		FeeAmount:             req.FeeAmount,
		Currency:              req.Currency,
		NumberOfPayments:      req.NumberOfPayments,
		FundingSourceID:       req.FundingSourceID,
		BackupFundingSourceID: req.BackupFundingSourceID,
		PayeeID:               req.PayeeID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) GetSchedule(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sched, err := s.scheduleSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) ListScheduleAttempts(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.scheduleSvc.GetByID(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	attempts, err := s.ledgerSvc.ListBySchedule(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// ListScheduleOccurrences previews the projected calendar for a window.
func (s *Server) ListScheduleOccurrences(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sched, err := s.scheduleSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	from, to, err := parseWindow(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	occurrences := projection.DueDates(sched, from, to, s.policy.Current())
	c.JSON(http.StatusOK, gin.H{"occurrences": occurrences})
}

func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	from := time.Time{}
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(layout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidRequest
		}
		from = parsed
	}

	to := from.AddDate(10, 0, 0)
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(layout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidRequest
		}
		to = parsed
	}
	return from, to, nil
}

func (s *Server) AcceptSchedule(c *gin.Context) {
	s.scheduleAction(c, s.scheduleSvc.Accept)
}

func (s *Server) RejectSchedule(c *gin.Context) {
	s.scheduleAction(c, s.scheduleSvc.Reject)
}

func (s *Server) CancelSchedule(c *gin.Context) {
	s.scheduleAction(c, s.scheduleSvc.Cancel)
}

func (s *Server) scheduleAction(c *gin.Context, action func(ctx context.Context, id, actorAccountID snowflake.ID) error) {
	actor, err := s.actor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := action(c.Request.Context(), id, actor); err != nil {
		AbortWithError(c, err)
		return
	}

	sched, err := s.scheduleSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// RetrySchedule is the manual overdue-retry trigger. A schedule already
// claimed by a concurrent retry answers with a conflict rather than a
// double submission.
func (s *Server) RetrySchedule(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, scheduledomain.ErrAlreadyProcessing)
		return
	}
	actor, err := s.actor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sched, err := s.scheduleSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if sched.OwnerAccountID != actor && sched.CounterpartAccountID != actor {
		AbortWithError(c, scheduledomain.ErrNotParticipant)
		return
	}

	if err := s.scheduler.RetryScheduleNow(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	sched, err = s.scheduleSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}
