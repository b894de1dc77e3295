// Command worldserver runs the OMNIWORLD persistent world server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/omniworld/internal/backup"
	"github.com/talgya/omniworld/internal/broadcast"
	"github.com/talgya/omniworld/internal/config"
	"github.com/talgya/omniworld/internal/dispatch"
	"github.com/talgya/omniworld/internal/engine"
	"github.com/talgya/omniworld/internal/judge"
	"github.com/talgya/omniworld/internal/metrics"
	"github.com/talgya/omniworld/internal/registry"
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/store"
	"github.com/talgya/omniworld/internal/transport/ws"
	"github.com/talgya/omniworld/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("OMNIWORLD — persistent judged world")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("bad configuration", "error", err)
		os.Exit(1)
	}

	// ── Rules ─────────────────────────────────────────────────────────
	var ruleSet *rules.Rules
	if _, statErr := os.Stat(cfg.RulesPath); statErr == nil {
		ruleSet, err = rules.Load(cfg.RulesPath)
		if err != nil {
			slog.Error("failed to load rules", "path", cfg.RulesPath, "error", err)
			os.Exit(1)
		}
		slog.Info("rules loaded", "path", cfg.RulesPath, "version", ruleSet.Version)
	} else {
		ruleSet = rules.Default()
		slog.Warn("no rule file found, using built-in rules", "path", cfg.RulesPath)
	}

	// ── Database and store ────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	biomes := world.NewBiomeField(ruleSet.Seed, ruleSet.World.OriginZoneRadius, ruleSet.World.CityLatitude)
	st := store.New(db, biomes, store.Limits{
		MaxSlots:  ruleSet.Inventory.MaxSlots,
		MaxWeight: ruleSet.Inventory.MaxWeight,
		PriceMin:  ruleSet.Engines.Economic.PriceMin,
		PriceMax:  ruleSet.Engines.Economic.PriceMax,
	})
	if err := st.LoadAll(); err != nil {
		slog.Error("failed to restore world state", "error", err)
		os.Exit(1)
	}

	// ── Registry ──────────────────────────────────────────────────────
	reg := registry.New(db, logger)
	if err := reg.Load(); err != nil {
		slog.Error("failed to load registry", "error", err)
		os.Exit(1)
	}
	for _, bm := range ruleSet.Materials {
		if err := reg.SeedMaterial(&world.Material{
			Name:        bm.Name,
			Props:       bm.Props,
			Description: bm.Description,
			Creator:     "world",
		}); err != nil {
			slog.Error("failed to seed material", "name", bm.Name, "error", err)
		}
	}

	// ── Oracle ────────────────────────────────────────────────────────
	client := judge.NewClient(cfg.JudgeAPIKey, cfg.JudgeModel, cfg.JudgeTimeout)
	if client.Enabled() {
		slog.Info("judgment oracle enabled", "model", cfg.JudgeModel)
	} else {
		slog.Warn("OMNIWORLD_JUDGE_API_KEY not set — free-form actions will fail unjudged")
	}
	oracle := judge.NewLLMJudge(client)

	// ── Engines, broadcast, dispatch ──────────────────────────────────
	m := metrics.New()
	hub := broadcast.NewHub(logger, m.BroadcastDrops.Inc)
	engines := engine.NewSet(ruleSet, logger)
	met := engine.NewMeteorology(ruleSet.Seed)

	dispatcher := dispatch.New(
		st, reg, engines, oracle, ruleSet, met, biomes, hub, m, logger,
		cfg.MaxInflightJudgments, cfg.JudgeTimeout,
	)
	reg.OnAccept(func(kind, id string) {
		slog.Info("registry entry accepted", "kind", kind, "id", id)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dispatcher.RunTicks(ctx, cfg.TickInterval)

	backups := backup.NewRunner(st, cfg.BackupDir, cfg.BackupKeep, logger)
	go backups.Run(ctx, cfg.BackupInterval)

	// ── HTTP ──────────────────────────────────────────────────────────
	wsServer := ws.NewServer(st, dispatcher, reg, hub, ruleSet, m, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.Handler())
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	if _, err := backups.Snapshot(); err != nil {
		slog.Error("final backup failed", "error", err)
	}
	slog.Info("world state saved, goodbye")
}
