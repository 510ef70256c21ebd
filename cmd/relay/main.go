package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/irdkwmnsb/webrtc-meeting/internal/logging"
	"github.com/irdkwmnsb/webrtc-meeting/internal/relay"
	"github.com/spf13/cobra"
)

func main() {
	var configDir string

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Backend relay for meeting clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run(configDir)
		},
	}
	cmd.Flags().StringVar(&configDir, "config", "conf", "directory with configuration files")

	if err := cmd.Execute(); err != nil {
		slog.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	manager, err := config.NewManager(configDir)
	if err != nil {
		return err
	}
	defer manager.Close()

	cfg := manager.Get()
	logging.Setup(cfg.Log)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             cfg.Server.MaxMessageLength,
	})
	app.Use(recover.New())

	server, err := relay.NewServer(cfg.Server, app)
	if err != nil {
		return err
	}
	defer server.Close()

	manager.SetUpdateCallback(func(updated *config.AppConfig) {
		logging.SetLevel(updated.Log.Level)
		server.UpdateConfig(updated.Server)
	})

	server.SetupRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		if cfg.Server.TLSCrtFile != nil && cfg.Server.TLSKeyFile != nil {
			slog.Info("running TLS relay", "addr", addr)
			errs <- app.ListenTLS(addr, *cfg.Server.TLSCrtFile, *cfg.Server.TLSKeyFile)
		} else {
			slog.Info("running relay", "addr", addr)
			errs <- app.Listen(addr)
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		slog.Info("shutting down relay")
		server.Close()
		return app.Shutdown()
	}
}
