package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wabot/internal/autoreply"
	"wabot/internal/bus"
	"wabot/internal/config"
	"wabot/internal/dispatch"
	"wabot/internal/domain"
	"wabot/internal/gate"
	"wabot/internal/identity"
	"wabot/internal/metrics"
	"wabot/internal/moderation"
	"wabot/internal/msgcache"
	"wabot/internal/plugin"
	"wabot/internal/plugins"
	"wabot/internal/reconcile"
	"wabot/internal/store"
	"wabot/internal/transport"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "wabot",
		Short: "wabot: chat automation runtime",
		Long:  "wabot is a multi-transport chat bot runtime: plugin commands, rental gating, moderation, and anti-delete recovery.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.wabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show runtime configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			logger.Info("version", "wabot", version)
			logger.Info("transports",
				"gateway", cfg.Transports.Gateway.Enabled,
				"telegram", cfg.Transports.Telegram.Enabled)
			logger.Info("features",
				"rental", cfg.Rental.Enabled,
				"energy", cfg.Energy.Enabled,
				"moderation", cfg.Moderation.Enabled,
				"autoreply", cfg.AutoReply.Enabled)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. gate.chatMode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. gate.operatingMode owner)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot runtime",
		Long:  "Starts the enabled transports, the dispatch pipeline, and the background reconciliation loops. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(cfg.General.BusBuffer, logger)

	db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()
	defer eventBus.Close()

	// Pick the primary transport for the pipeline's send path.
	var primary domain.Transport
	var gateway *transport.Gateway
	var telegram *transport.Telegram

	if cfg.Transports.Gateway.Enabled {
		gateway = transport.NewGateway(cfg.Transports.Gateway, logger)
		primary = gateway
	}
	if cfg.Transports.Telegram.Enabled && cfg.Transports.Telegram.Token != "" {
		telegram = transport.NewTelegram(cfg.Transports.Telegram, logger)
		if primary == nil {
			primary = telegram
		}
	}
	if primary == nil {
		return fmt.Errorf("no transport enabled; enable transports.gateway or transports.telegram")
	}

	rt := &domain.Runtime{
		Transport: primary,
		Store:     db,
		Logger:    logger,
		Owners:    cfg.General.Owners,
		Prefixes:  cfg.General.Prefixes,
		BotID:     cfg.General.BotID,
	}

	registry := plugin.NewRegistry(logger)
	if err := registerPlugins(registry, cfg, rt); err != nil {
		return fmt.Errorf("register plugins: %w", err)
	}

	cache := msgcache.New(logger)
	go cache.Start(ctx)

	engine := dispatch.NewEngine(dispatch.EngineConfig{
		Bus:        eventBus,
		Resolver:   identity.NewResolver(db, primary, logger),
		Cache:      cache,
		Registry:   registry,
		Gate:       gate.New(cfg, db, logger),
		Moderation: moderation.New(cfg.Moderation, db, logger),
		Runtime:    rt,
		Logger:     logger,
	})
	go engine.Run(ctx)

	sched := reconcile.NewScheduler(logger)
	go sched.Start(ctx)

	if cfg.Rental.Enabled {
		rentalLoop := reconcile.NewRentalLoop(db, primary, sched, cfg.General.BotID, logger)
		go rentalLoop.Start(ctx)
	}
	suspendLoop := reconcile.NewSuspendLoop(db, logger)
	go suspendLoop.Start(ctx)

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr)
	}

	if gateway != nil {
		go func() {
			if err := gateway.Start(ctx, eventBus); err != nil {
				logger.Error("gateway transport error", "err", err)
			}
		}()
	}
	if telegram != nil {
		go func() {
			if err := telegram.Start(ctx, eventBus); err != nil {
				logger.Error("telegram transport error", "err", err)
			}
		}()
	}

	logger.Info("wabot started", "version", version, "transport", primary.Name())

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if gateway != nil {
			gateway.Stop()
		}
		if telegram != nil {
			telegram.Stop()
		}
		sched.Stop()
		eventBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// registerPlugins wires the built-in plugin set plus the optional
// autoreply middleware.
func registerPlugins(registry *plugin.Registry, cfg *config.Config, rt *domain.Runtime) error {
	set := []*domain.Plugin{
		plugins.Help(registry),
		plugins.Owner(),
		plugins.Energy(),
		plugins.RentalStatus(),
		plugins.Mute(),
		plugins.AntiMedia(),
	}

	if cfg.AutoReply.Enabled {
		rules, err := autoreply.LoadDirectory(cfg.AutoReply.RulesDir, rt.Logger)
		if err != nil {
			return fmt.Errorf("autoreply rules: %w", err)
		}
		if len(rules) > 0 {
			set = append(set, autoreply.Plugin(autoreply.NewResponder(rules, rt.Logger)))
		}
	}

	return registry.Register(set...)
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "err", err)
	}
}
