// Command agentd hosts the Agent side of the protocol: it opens the
// loopback TCP listener, publishes a discovery handshake file so a
// Client can find it without being told the port, and serves requests
// until interrupted.
//
// Startup sequence: config load -> logging setup -> component wiring ->
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentlink/agentlink/internal/agent/server"
	"github.com/agentlink/agentlink/internal/bootstrap"
	"github.com/agentlink/agentlink/internal/config"
	"github.com/agentlink/agentlink/internal/logging"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("agentd %s (built %s)\n", Version, BuildTime)
		return
	}

	confFile := "./conf/agentd.conf"
	if f := os.Getenv("AGENTD_CONF"); f != "" {
		confFile = f
	}
	cfg, err := config.Load(confFile)
	if err != nil {
		slog.Warn("config load error, using defaults", "path", confFile, "error", err)
		cfg, _ = config.Load("")
	}

	var logLevel slog.LevelVar
	if cfg.IsDebug() {
		logLevel.Set(slog.LevelDebug)
	}
	logWriter := logging.SetupWriter(cfg.LogDir(), cfg.LogRotationEnabled(), cfg.LogKeepDays())
	slog.SetDefault(slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: &logLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if interval := cfg.ConfigReloadIntervalMs(); interval > 0 {
		config.StartWatcher(ctx, confFile, time.Duration(interval)*time.Millisecond, func(reloaded *config.Config) {
			if reloaded.IsDebug() {
				logLevel.Set(slog.LevelDebug)
			} else {
				logLevel.Set(slog.LevelInfo)
			}
		})
	}

	if rw, ok := logWriter.(*logging.RotatingWriter); ok {
		rw.Start(ctx)
		defer rw.Close()
	}

	slog.Info("agentd starting", "version", Version, "build", BuildTime, "pid", os.Getpid())

	a := server.New(server.Config{
		ListenIP:       cfg.ListenIP(),
		ListenPort:     cfg.ListenPort(),
		MaxConnections: cfg.MaxConnections(),
	})
	if err := a.Start(ctx); err != nil {
		slog.Error("agentd: failed to start listener", "error", err)
		os.Exit(1)
	}

	discoveryDir := cfg.BootstrapDiscoveryDir()
	sessionID, err := bootstrap.Publish(discoveryDir, os.Getpid(), a.Addr().String())
	if err != nil {
		slog.Warn("agentd: failed to publish discovery handshake", "dir", discoveryDir, "error", err)
	} else {
		slog.Info("agentd: discovery handshake published", "dir", discoveryDir, "session", sessionID, "addr", a.Addr())
		defer func() {
			if err := bootstrap.Withdraw(discoveryDir, os.Getpid()); err != nil {
				slog.Warn("agentd: failed to withdraw discovery handshake", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("agentd: shutting down")
	a.Wait()
	slog.Info("agentd: stopped")
}
