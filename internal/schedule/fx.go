package schedule

import (
	"go.uber.org/fx"

	"github.com/payflowhq/payflow/internal/schedule/domain"
	"github.com/payflowhq/payflow/internal/schedule/repository"
	"github.com/payflowhq/payflow/internal/schedule/service"
)

var Module = fx.Module("schedule.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
)
