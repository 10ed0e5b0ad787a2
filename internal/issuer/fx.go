package issuer

import (
	"go.uber.org/fx"

	"github.com/payflowhq/payflow/internal/issuer/domain"
	"github.com/payflowhq/payflow/internal/issuer/gateway"
	"github.com/payflowhq/payflow/internal/issuer/service"
)

var Module = fx.Module("issuer.service",
	fx.Provide(gateway.NewClient),
	fx.Provide(func(c *gateway.Client) domain.Gateway { return c }),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
)
