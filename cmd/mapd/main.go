package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/midgard/mapserver/internal/channel"
	"github.com/midgard/mapserver/internal/companion"
	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/data"
	"github.com/midgard/mapserver/internal/group"
	"github.com/midgard/mapserver/internal/guild"
	"github.com/midgard/mapserver/internal/handler"
	"github.com/midgard/mapserver/internal/intif"
	"github.com/midgard/mapserver/internal/party"
	"github.com/midgard/mapserver/internal/persist"
	"github.com/midgard/mapserver/internal/sched"
	"github.com/midgard/mapserver/internal/scripting"
	"github.com/midgard/mapserver/internal/storage"
	"github.com/midgard/mapserver/internal/trade"
	"github.com/midgard/mapserver/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         Midgard Map Server  v0.1.0        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("MAPD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if err := persist.Migrate(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations up to date")
	fmt.Println()

	// 4. Load static data tables
	printSection("data")

	itemTable, err := data.LoadItemTable("data/items.yaml")
	if err != nil {
		return fmt.Errorf("load item table: %w", err)
	}
	printStat("item templates", itemTable.Count())

	speciesTable, err := data.LoadSpeciesTable("data/species.yaml")
	if err != nil {
		return fmt.Errorf("load species table: %w", err)
	}
	printStat("companion species", speciesTable.Count())

	groupTable, err := group.Load("data/groups.yaml")
	if err != nil {
		return fmt.Errorf("load group table: %w", err)
	}
	printStat("player groups", groupTable.Count())

	luaEngine, err := scripting.NewEngine("scripts", log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printOK("Lua formulas loaded")
	fmt.Println()

	// 5. Inter-server link. Standalone servers answer persistence
	// requests from the local database via the loopback backend.
	printSection("char link")

	if !cfg.Intif.Loopback {
		return fmt.Errorf("intif: remote char link to %s not supported, enable loopback", cfg.Intif.Address)
	}
	loopback, err := persist.NewLoopback(cfg.Intif, db, os.Getenv("MAPD_LINK_SECRET"), log)
	if err != nil {
		return fmt.Errorf("intif link: %w", err)
	}
	printOK("loopback persistence link up")

	sch := sched.New(time.Now(), log)
	cli := intif.NewClient(loopback, sch, cfg.Intif.RequestTimeout.Std(), log)

	// 6. Build the world and game systems
	worldState := world.NewState()
	channels := channel.NewManager(log)
	storageMgr := storage.NewManager(&cfg.Gameplay, itemTable,
		cli, persist.NewStorageAudit(db, cfg.Intif.RequestTimeout.Std(), log), log)
	tradeMgr := trade.NewManager(&cfg.Gameplay, itemTable,
		persist.NewTradeLedger(db, cfg.Intif.RequestTimeout.Std()), log)
	companions := companion.NewEngine(companion.Deps{
		Cfg:     &cfg.Gameplay,
		Species: speciesTable,
		Scripts: luaEngine,
		Sched:   sch,
		Intif:   cli,
		Log:     log,
	})
	guildMgr := guild.NewManager(cli, log)
	partyMgr := party.NewManager(cli, log)

	// 7. Bundle the lifecycle deps handed to the packet layer
	deps := &handler.Deps{
		Config:     cfg,
		Log:        log,
		World:      worldState,
		Groups:     groupTable,
		Channels:   channels,
		Storage:    storageMgr,
		Trade:      tradeMgr,
		Companions: companions,
		Guilds:     guildMgr,
		Parties:    partyMgr,
		Intif:      cli,
		Sched:      sch,
	}

	// 8. Restore guild and party rosters
	guildRecs, err := persist.NewGuildRepo(db).LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load guilds: %w", err)
	}
	for _, rec := range guildRecs {
		guildMgr.Restore(rec)
	}
	printStat("guilds", len(guildRecs))

	partyRecs, err := persist.NewPartyRepo(db).LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load parties: %w", err)
	}
	for _, rec := range partyRecs {
		partyMgr.Restore(rec)
	}
	printStat("parties", len(partyRecs))
	fmt.Println()

	// 9. Game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate.Std())
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("game loop running (tick: %s)", cfg.Server.TickRate))
	fmt.Println()

	saveAll := func() {
		companions.SaveSweep()
		guildMgr.SaveSweep()
		partyMgr.SaveSweep()
		saved := 0
		worldState.Each(func(c *world.Character) {
			if !c.Dirty {
				return
			}
			cli.Notify(intif.KindCharacterSave, handler.CharRecord(c))
			c.Dirty = false
			saved++
		})
		if saved > 0 {
			log.Info("autosave complete", zap.Int("characters", saved))
		}
	}

	saveCounter := 0
	saveInterval := int(5 * time.Minute / cfg.Server.TickRate.Std())
	if saveInterval < 1 {
		saveInterval = 1
	}

	for {
		select {
		case <-ticker.C:
			sch.Advance(time.Now())
			loopback.Pump(cli)
			saveCounter++
			if saveCounter >= saveInterval {
				saveCounter = 0
				saveAll()
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			var online []*world.Character
			worldState.Each(func(c *world.Character) { online = append(online, c) })
			for _, c := range online {
				handler.LeaveWorld(deps, c)
			}
			saveAll()
			loopback.Pump(cli)
			log.Info("server stopped")
			return nil
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
