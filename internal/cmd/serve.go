package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/webmux/webmux/internal/config"
	"github.com/webmux/webmux/internal/handlers"
	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/middleware"
	"github.com/webmux/webmux/internal/services"
	"github.com/webmux/webmux/internal/tmux"
)

var (
	serveConfigPath string
	servePort       int
	serveDev        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webmux server",
	Long: `Starts the HTTP/WebSocket server that bridges tmux sessions to
connected clients.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to YAML config file")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "enable console logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveDev {
		cfg.Dev = true
	}
	logger.Configure(logger.LevelFromEnv(cfg.Dev), cfg.Dev)

	commander := tmux.NewService(cfg.CommandTimeout)
	if err := commander.EnsureServer(cmd.Context()); err != nil {
		logger.Warnf("tmux server not available yet: %v", err)
	}

	sessionManager := services.NewSessionManager(cfg, commander)
	clientManager := services.NewClientManager(cfg)
	statsService := services.NewStatsService()
	monitor := services.NewTmuxMonitor(commander, clientManager)

	dotfiles, err := services.NewDotfilesService(cfg.DotfilesDir, clientManager)
	if err != nil {
		return err
	}
	if err := dotfiles.StartWatcher(); err != nil {
		logger.Warnf("Dotfile watching disabled: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "webmux",
		DisableStartupMessage: true,
		ReadBufferSize:        16 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(middleware.NewAuthMiddleware().RequireAuth)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/v1")
	handlers.NewWSHandler(cfg, sessionManager, clientManager, commander, statsService).RegisterRoutes(v1)
	handlers.NewSessionsHandler(commander, sessionManager, clientManager, statsService).RegisterRoutes(v1)
	handlers.NewDotfilesHandler(dotfiles).RegisterRoutes(v1)

	monitor.Start()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Infof("🚀 Webmux listening on %s", addr)
		errCh <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Infof("Received %s, shutting down", sig)
	}

	monitor.Stop()
	dotfiles.StopWatcher()
	sessionManager.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
