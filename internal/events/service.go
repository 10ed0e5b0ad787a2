package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/payflowhq/payflow/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service interface {
	ScheduleStatusChanged(ctx context.Context, scheduleID snowflake.ID, from, to string, payload map[string]any)
	AttemptStatusChanged(ctx context.Context, scheduleID snowflake.ID, attemptID uuid.UUID, status string, payload map[string]any)
	EscrowOperation(ctx context.Context, eventType string, escrowID snowflake.ID, payload map[string]any)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("events"),
		genID: p.GenID,
	}
}

func (s *service) ScheduleStatusChanged(ctx context.Context, scheduleID snowflake.ID, from, to string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = from
	payload["to"] = to
	s.append(ctx, Record{
		Type:       TypeScheduleStatusChanged,
		ScheduleID: &scheduleID,
		Payload:    datatypes.JSONMap(payload),
	})
}

func (s *service) AttemptStatusChanged(ctx context.Context, scheduleID snowflake.ID, attemptID uuid.UUID, status string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = status
	s.append(ctx, Record{
		Type:       TypeAttemptStatusChanged,
		ScheduleID: &scheduleID,
		AttemptID:  &attemptID,
		Payload:    datatypes.JSONMap(payload),
	})
}

func (s *service) EscrowOperation(ctx context.Context, eventType string, escrowID snowflake.ID, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	s.append(ctx, Record{
		Type:     eventType,
		EscrowID: &escrowID,
		Payload:  datatypes.JSONMap(payload),
	})
}

// append is best-effort: a full outbox must never fail the state change it
// describes.
func (s *service) append(ctx context.Context, record Record) {
	record.ID = s.genID.Generate()
	record.CreatedAt = time.Now().UTC()
	if cid := ctxlogger.CorrelationID(ctx); cid != "" {
		record.Payload["correlation_id"] = cid
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Warn("failed to append event",
			zap.String("type", record.Type),
			zap.Error(err),
		)
	}
}
