// Command codeb-controlplaned runs the application delivery control
// plane: it loads configuration, wires the SSH executor, the slot
// registry, env store, container driver, router controller, event bus,
// and local ledger, then serves the control API until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/api"
	"github.com/codeblabdev/codeb-controlplane/internal/config"
	"github.com/codeblabdev/codeb-controlplane/internal/container/quadlet"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/portalloc"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slotengine"
	"github.com/codeblabdev/codeb-controlplane/internal/envstore"
	"github.com/codeblabdev/codeb-controlplane/internal/events/httpbus"
	"github.com/codeblabdev/codeb-controlplane/internal/proxy/caddyfile"
	"github.com/codeblabdev/codeb-controlplane/internal/slotstore"
	"github.com/codeblabdev/codeb-controlplane/internal/sshexec"
	"github.com/codeblabdev/codeb-controlplane/internal/storage/sqlite"
	"github.com/codeblabdev/codeb-controlplane/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log logger.Logger
	if cfg.Log.Format == "text" {
		log = logger.NewText(cfg.Log.Level)
	} else {
		log = logger.New(cfg.Log.Level)
	}

	info := version.GetInfo()
	log.Info("starting codeb control plane",
		"host", cfg.Server.Host, "port", cfg.Server.Port,
		"version", info.Version, "commit", info.Commit, "buildTime", info.BuildTime)

	ledger, err := sqlite.NewStore(cfg.Database.Path)
	if err != nil {
		log.Error("failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	if err := ledger.Migrate(); err != nil {
		log.Error("failed to run ledger migrations", "error", err)
		os.Exit(1)
	}

	exec, err := sshexec.New(sshexec.Config{
		User:           cfg.SSH.User,
		PrivateKeyPath: cfg.SSH.PrivateKeyPath,
	}, log)
	if err != nil {
		log.Error("failed to initialize ssh executor", "error", err)
		os.Exit(1)
	}
	defer exec.Close()

	slots := slotstore.New(exec, cfg.Hosts.App, log)
	envs := envstore.New(exec, cfg.Hosts.App, cfg.Hosts.Backup, log)
	driver := quadlet.New(exec, cfg.Hosts.App, log)
	proxyCtl := caddyfile.New(exec, cfg.Hosts.App, log)
	bus := httpbus.New(cfg.EventBus.ApiUrl, cfg.EventBus.ApiKey, log, ledger)
	defer bus.Close()

	allocator := portalloc.New()
	if registries, err := slots.List(context.Background()); err != nil {
		log.Warn("failed to seed port allocator from existing registries", "error", err)
	} else {
		allocator.LoadFromRegistries(context.Background(), registries)
	}

	engine := slotengine.New(
		slots, envs, driver, proxyCtl, bus, allocator, exec, cfg.Hosts.App,
		slotengine.Config{
			GracePeriod:           cfg.Slot.GracePeriod,
			DefaultHealthTimeout:  cfg.Slot.DefaultHealthTimeout,
			DefaultCommandTimeout: cfg.Slot.DefaultCommandTimeout,
		},
		log,
		ledger,
	)

	reconcileCtx, cancelReconcile := context.WithCancel(context.Background())
	engine.StartHealthReconciler(reconcileCtx)
	defer cancelReconcile()

	server := api.NewServer(api.ServerConfig{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		JWTSecret: cfg.Auth.JWTSecret,
	}, engine, slots, envs, log)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info("server listening", "addr", addr)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	engine.StopHealthReconciler()
	cancelReconcile()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
