package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	accountdomain "github.com/payflowhq/payflow/internal/account/domain"
)

type createAccountRequest struct {
	Kind     string            `json:"kind" binding:"required"`
	Email    string            `json:"email" binding:"required"`
	FullName string            `json:"full_name" binding:"required"`
	ParentID *string           `json:"parent_id"`
	Profile  datatypes.JSONMap `json:"profile"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var parentID *snowflake.ID
	if req.ParentID != nil {
		id, err := snowflake.ParseString(*req.ParentID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		parentID = &id
	}

	account, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateAccountRequest{
		Kind:     accountdomain.AccountKind(req.Kind),
		Email:    req.Email,
		FullName: req.FullName,
		ParentID: parentID,
		Profile:  req.Profile,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) GetAccount(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.accountSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

type registerFundingSourceRequest struct {
	ID               uuid.UUID `json:"id" binding:"required"`
	Type             string    `json:"type" binding:"required"`
	Currency         string    `json:"currency" binding:"required"`
	PaymentAccountID uuid.UUID `json:"payment_account_id" binding:"required"`
}

func (s *Server) RegisterFundingSource(c *gin.Context) {
	accountID, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req registerFundingSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.accountSvc.RegisterFundingSource(c.Request.Context(), accountdomain.FundingSource{
		ID:               req.ID,
		AccountID:        accountID,
		Type:             accountdomain.FundingSourceType(req.Type),
		Currency:         req.Currency,
		PaymentAccountID: req.PaymentAccountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (s *Server) ListFundingSources(c *gin.Context) {
	accountID, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sources, err := s.accountSvc.ListFundingSources(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"funding_sources": sources})
}
