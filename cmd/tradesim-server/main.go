package main

import (
	"context"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tradesim/internal/api"
	"tradesim/internal/bracket"
	"tradesim/internal/config"
	"tradesim/internal/engine"
	"tradesim/internal/journal"
	"tradesim/internal/ledger"
	"tradesim/internal/policy"
	"tradesim/internal/sim"
	"tradesim/internal/util"
)

// markInterval drives trailing-stop repegs and order expiry.
const markInterval = 5 * time.Second

func main() {
	cfgPath := "config/tradesim.yaml"
	if p := os.Getenv("TRADESIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Policy inputs: live Alpaca endpoints when credentials are configured,
	// the built-in calendar otherwise.
	var (
		clock     policy.MarketClock = policy.NewCalendarClock()
		liquidity policy.LiquidityProvider
		account   policy.AccountSource
	)
	if cfg.Alpaca.Enabled {
		clock = policy.NewAlpacaClock(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		liquidity = policy.NewAlpacaLiquidity(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
		account = policy.NewAlpacaAccount(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}
	pol := policy.NewEngine(cfg.Policy.Config, clock, liquidity, account, logger)

	comp := bracket.NewComposer(logger)
	led := ledger.NewPositionLedger(logger)

	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	simulator := sim.NewSimulator(cfg.Sim.Config, rand.New(rand.NewSource(seed)), led, logger)

	sink, err := journal.NewSQLiteSink(cfg.Storage.JournalPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}

	panicActive := false
	if cfg.Engine.Recover {
		events, err := sink.Events()
		if err != nil {
			log.Fatalf("failed to read journal: %v", err)
		}
		summary := journal.Restore(events, comp, led, logger)
		panicActive = summary.PanicActive
		logger.Info("journal restored",
			"legs", summary.Legs, "fills", summary.Fills, "panic_active", summary.PanicActive)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	async := journal.NewAsync(sink, cfg.Engine.JournalQueueSize, logger)
	jrnl := journal.Multi{async, hub.Journal()}

	eng := engine.New(cfg.Engine.Config, pol, comp, simulator, led, jrnl, logger)
	if panicActive {
		eng.Halt()
		logger.Warn("previous panic stop did not complete, engine starts halted")
	}

	go func() {
		ticker := time.NewTicker(markInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.MarkToMarket()
			}
		}
	}()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := api.NewServer(addr, eng, hub, logger)
	logger.Info("tradesim-server starting", "addr", addr, "seed", seed)
	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	if cfg.Storage.FillsExport != "" {
		if fills := eng.Fills(); len(fills) > 0 {
			if err := journal.ExportFills(cfg.Storage.FillsExport, fills); err != nil {
				logger.Error("fills export failed", "path", cfg.Storage.FillsExport, "error", err)
			} else {
				logger.Info("fills exported", "path", cfg.Storage.FillsExport, "count", len(fills))
			}
		}
	}

	if err := jrnl.Close(); err != nil {
		logger.Error("journal close", "error", err)
	}
}
