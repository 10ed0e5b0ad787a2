package escrow

import (
	"go.uber.org/fx"

	"github.com/payflowhq/payflow/internal/escrow/domain"
	"github.com/payflowhq/payflow/internal/escrow/repository"
	"github.com/payflowhq/payflow/internal/escrow/service"
)

var Module = fx.Module("escrow.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
)
