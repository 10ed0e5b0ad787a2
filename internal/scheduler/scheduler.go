// Package scheduler drives the periodic passes that turn schedules into
// payments: due-date submission, overdue chain retries, pending attempt
// reconciliation, acceptance deadlines and escrow expiry. Each run is a
// stateless pass over persisted rows; all cross-run state lives in the
// schedule, attempt and escrow records, so a crash mid-pass resumes safely.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/config"
	escrowdomain "github.com/payflowhq/payflow/internal/escrow/domain"
	issuerdomain "github.com/payflowhq/payflow/internal/issuer/domain"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	obsmetrics "github.com/payflowhq/payflow/internal/observability/metrics"
	"github.com/payflowhq/payflow/internal/ratelimit"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Policy      *config.PolicyHolder
	ScheduleSvc scheduledomain.Service
	LedgerSvc   ledgerdomain.Service
	IssuerSvc   issuerdomain.Service
	EscrowSvc   escrowdomain.Service
	Guard       *ratelimit.Guard `optional:"true"`
	Config      Config           `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	genID       *snowflake.Node
	policy      *config.PolicyHolder
	scheduleSvc scheduledomain.Service
	ledgerSvc   ledgerdomain.Service
	issuerSvc   issuerdomain.Service
	escrowSvc   escrowdomain.Service
	guard       *ratelimit.Guard
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Policy == nil ||
		p.ScheduleSvc == nil || p.LedgerSvc == nil || p.IssuerSvc == nil || p.EscrowSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		genID:       p.GenID,
		policy:      p.Policy,
		scheduleSvc: p.ScheduleSvc,
		ledgerSvc:   p.LedgerSvc,
		issuerSvc:   p.IssuerSvc,
		escrowSvc:   p.EscrowSvc,
		guard:       p.Guard,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	// With redis configured, only one instance runs a given job per pass.
	token, acquired, lockErr := s.guard.TryLockJob(ctx, name, s.cfg.JobTimeout)
	if lockErr != nil {
		s.log.Warn("job lock unavailable, running anyway",
			zap.String("job", name),
			zap.Error(lockErr),
		)
	} else if !acquired {
		return nil
	} else {
		defer func() {
			if err := s.guard.ReleaseJob(context.WithoutCancel(ctx), name, token); err != nil {
				s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	processed, err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	schedMetrics.AddBatchProcessed(name, processed)

	if err == nil {
		if processed > 0 {
			s.log.Info("job finished",
				zap.String("job", name),
				zap.Int("processed", processed),
			)
		}
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the next pass picks up where this one stopped.
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name)
	s.log.Error("job failed",
		zap.String("job", name),
		zap.Int("processed", processed),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one pass of every enabled job. Job failures are joined,
// never short-circuited: one sick job must not starve the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{"due_payments", s.DuePaymentsJob},
		{"overdue_sweep", s.OverdueSweepJob},
		{"pending_reconcile", s.PendingReconcileJob},
		{"accept_deadline", s.AcceptDeadlineJob},
		{"escrow_expiry", s.EscrowExpiryJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		run := job.Run
		err = errors.Join(err, s.runJob(parent, job.Name, run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}
