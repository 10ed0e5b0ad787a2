package ledger

import (
	"github.com/payflowhq/payflow/internal/ledger/domain"
	"github.com/payflowhq/payflow/internal/ledger/repository"
	"github.com/payflowhq/payflow/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
)
