package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	escrowdomain "github.com/payflowhq/payflow/internal/escrow/domain"
)

type createEscrowRequest struct {
	CounterpartAccountID string `json:"counterpart_account_id" binding:"required"`
	Currency             string `json:"currency" binding:"required"`
}

func (s *Server) CreateEscrow(c *gin.Context) {
	actor, err := s.actor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req createEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	counterpart, err := snowflake.ParseString(req.CounterpartAccountID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	escrow, op, err := s.escrowSvc.Create(c.Request.Context(), escrowdomain.CreateEscrowRequest{
		OwnerAccountID:       actor,
		CounterpartAccountID: counterpart,
		Currency:             req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": escrow, "operation": op})
}

func (s *Server) GetEscrow(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	escrow, err := s.escrowSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, escrow)
}

func (s *Server) ListEscrowOperations(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ops, err := s.escrowSvc.ListOperations(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

type requestOperationRequest struct {
	Type string            `json:"type" binding:"required"`
	Args datatypes.JSONMap `json:"args"`
}

func (s *Server) RequestEscrowOperation(c *gin.Context) {
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
	var req requestOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	op, err := s.escrowSvc.RequestOperation(c.Request.Context(), escrowdomain.RequestOperationInput{
		EscrowID: id,
		Type:     escrowdomain.OperationType(req.Type),
		ActorID:  actor,
		Args:     req.Args,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, op)
}

func (s *Server) ApproveEscrowOperation(c *gin.Context) {
	s.decideEscrowOperation(c, true)
}

func (s *Server) RejectEscrowOperation(c *gin.Context) {
	s.decideEscrowOperation(c, false)
}

func (s *Server) decideEscrowOperation(c *gin.Context, approve bool) {
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

	op, err := s.escrowSvc.Decide(c.Request.Context(), id, actor, approve)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}
