// Package server is the HTTP surface: schedule and escrow actions, account
// registration, the payment status webhook and operational endpoints.
// Authentication is an upstream concern; the acting account arrives in the
// X-Account-ID header.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/payflowhq/payflow/internal/account/domain"
	"github.com/payflowhq/payflow/internal/config"
	escrowdomain "github.com/payflowhq/payflow/internal/escrow/domain"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	"github.com/payflowhq/payflow/internal/ratelimit"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
	"github.com/payflowhq/payflow/internal/scheduler"
)

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationMiddleware())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	policy      *config.PolicyHolder
	accountSvc  accountdomain.Service
	scheduleSvc scheduledomain.Service
	ledgerSvc   ledgerdomain.Service
	escrowSvc   escrowdomain.Service
	scheduler   *scheduler.Scheduler
	guard       *ratelimit.Guard
}

type Params struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	Policy      *config.PolicyHolder
	AccountSvc  accountdomain.Service
	ScheduleSvc scheduledomain.Service
	LedgerSvc   ledgerdomain.Service
	EscrowSvc   escrowdomain.Service
	Scheduler   *scheduler.Scheduler `optional:"true"`
	Guard       *ratelimit.Guard     `optional:"true"`
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("server"),
		policy:      p.Policy,
		accountSvc:  p.AccountSvc,
		scheduleSvc: p.ScheduleSvc,
		ledgerSvc:   p.LedgerSvc,
		escrowSvc:   p.EscrowSvc,
		scheduler:   p.Scheduler,
		guard:       p.Guard,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/accounts", s.CreateAccount)
	v1.GET("/accounts/:id", s.GetAccount)
	v1.POST("/accounts/:id/funding-sources", s.RegisterFundingSource)
	v1.GET("/accounts/:id/funding-sources", s.ListFundingSources)

	v1.POST("/schedules", s.CreateSchedule)
	v1.GET("/schedules/:id", s.GetSchedule)
	v1.GET("/schedules/:id/attempts", s.ListScheduleAttempts)
	v1.GET("/schedules/:id/occurrences", s.ListScheduleOccurrences)
	v1.POST("/schedules/:id/accept", s.AcceptSchedule)
	v1.POST("/schedules/:id/reject", s.RejectSchedule)
	v1.POST("/schedules/:id/cancel", s.CancelSchedule)
	v1.POST("/schedules/:id/retry", s.RetrySchedule)

	v1.POST("/escrows", s.CreateEscrow)
	v1.GET("/escrows/:id", s.GetEscrow)
	v1.GET("/escrows/:id/operations", s.ListEscrowOperations)
	v1.POST("/escrows/:id/operations", s.RequestEscrowOperation)
	v1.POST("/escrow-operations/:id/approve", s.ApproveEscrowOperation)
	v1.POST("/escrow-operations/:id/reject", s.RejectEscrowOperation)

	v1.POST("/webhooks/payments", s.HandlePaymentWebhook)
}

// actor resolves the acting account from the X-Account-ID header.
func (s *Server) actor(c *gin.Context) (snowflake.ID, error) {
	raw := c.GetHeader("X-Account-ID")
	if raw == "" {
		return 0, fmt.Errorf("%w: missing X-Account-ID", ErrUnauthorized)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: bad X-Account-ID", ErrUnauthorized)
	}
	return id, nil
}

func parseID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		return 0, fmt.Errorf("%w: bad id", ErrInvalidRequest)
	}
	return id, nil
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
