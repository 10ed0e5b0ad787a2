package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/payflowhq/payflow/internal/account/domain"
	escrowdomain "github.com/payflowhq/payflow/internal/escrow/domain"
	issuerdomain "github.com/payflowhq/payflow/internal/issuer/domain"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError parks the error for ErrorHandlingMiddleware to render.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var status int
	switch {
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, scheduledomain.ErrNotCounterpart),
		errors.Is(err, scheduledomain.ErrNotParticipant),
		errors.Is(err, escrowdomain.ErrNotParticipant),
		errors.Is(err, escrowdomain.ErrSelfDecision):
		status = http.StatusForbidden
	case errors.Is(err, scheduledomain.ErrScheduleNotFound),
		errors.Is(err, ledgerdomain.ErrAttemptNotFound),
		errors.Is(err, escrowdomain.ErrEscrowNotFound),
		errors.Is(err, escrowdomain.ErrOperationNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduledomain.ErrNotPending),
		errors.Is(err, scheduledomain.ErrNotCancellable),
		errors.Is(err, scheduledomain.ErrAlreadyProcessing),
		errors.Is(err, scheduledomain.ErrInvalidTransition),
		errors.Is(err, escrowdomain.ErrOperationOutstanding),
		errors.Is(err, escrowdomain.ErrOperationSettled),
		errors.Is(err, escrowdomain.ErrEscrowNotOpen),
		errors.Is(err, escrowdomain.ErrEscrowTerminal),
		errors.Is(err, accountdomain.ErrEmailTaken):
		status = http.StatusConflict
	case errors.Is(err, issuerdomain.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, scheduledomain.ErrInvalidPurpose),
		errors.Is(err, scheduledomain.ErrInvalidCadence),
		errors.Is(err, scheduledomain.ErrInvalidAmount),
		errors.Is(err, scheduledomain.ErrInvalidPaymentCount),
		errors.Is(err, scheduledomain.ErrInvalidStartDate),
		errors.Is(err, scheduledomain.ErrDepositAfterStart),
		errors.Is(err, scheduledomain.ErrDepositIncomplete),
		errors.Is(err, scheduledomain.ErrCurrencyMismatch),
		errors.Is(err, scheduledomain.ErrBackupSameAsPrimary),
		errors.Is(err, scheduledomain.ErrFundingSourceUnknown),
		errors.Is(err, escrowdomain.ErrInvalidOperation),
		errors.Is(err, escrowdomain.ErrMissingAmount),
		errors.Is(err, escrowdomain.ErrInsufficientBalance),
		errors.Is(err, accountdomain.ErrInvalidKind),
		errors.Is(err, accountdomain.ErrInvalidEmail),
		errors.Is(err, accountdomain.ErrMissingParent),
		errors.Is(err, accountdomain.ErrUnexpectedParent):
		status = http.StatusBadRequest
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal error",
		}
	}
	return status, errorPayload{Type: err.Error(), Message: err.Error()}
}
