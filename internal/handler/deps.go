// Package handler orchestrates character lifecycle across the game
// systems: entering the world, leaving it, and moving between maps.
// The packet layer (out of tree) calls into it; everything runs on the
// game loop goroutine.
package handler

import (
	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/channel"
	"github.com/midgard/mapserver/internal/companion"
	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/guild"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/party"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/storage"
	"github.com/midgard/mapserver/internal/trade"
	"github.com/midgard/mapserver/internal/world"
)

// Deps holds shared dependencies injected into the lifecycle handlers.
type Deps struct {
	Config     *config.Config
	Log        *zap.Logger
	World      *world.State
	Groups     *group.Table
	Channels   *channel.Manager
	Storage    *storage.Manager
	Trade      *trade.Manager
	Companions *companion.Engine
	Guilds     *guild.Manager
	Parties    *party.Manager
	Intif      *intif.Client
	Sched      *sched.Scheduler
}
