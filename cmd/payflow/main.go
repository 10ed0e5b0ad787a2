package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/payflowhq/payflow/internal/account"
	"github.com/payflowhq/payflow/internal/cache"
	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/config"
	"github.com/payflowhq/payflow/internal/escrow"
	"github.com/payflowhq/payflow/internal/events"
	"github.com/payflowhq/payflow/internal/issuer"
	"github.com/payflowhq/payflow/internal/ledger"
	"github.com/payflowhq/payflow/internal/migration"
	"github.com/payflowhq/payflow/internal/ratelimit"
	"github.com/payflowhq/payflow/internal/schedule"
	"github.com/payflowhq/payflow/internal/scheduler"
	"github.com/payflowhq/payflow/internal/server"
	"github.com/payflowhq/payflow/pkg/db"
	"github.com/payflowhq/payflow/pkg/log"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Functional domains
		events.Module,
		cache.Module,
		account.Module,
		ledger.Module,
		issuer.Module,
		schedule.Module,
		escrow.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
