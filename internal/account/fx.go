package account

import (
	"go.uber.org/fx"

	"github.com/payflowhq/payflow/internal/account/domain"
	"github.com/payflowhq/payflow/internal/account/service"
)

var Module = fx.Module("account.service",
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
)
