package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/config"
	"github.com/gv211432/QueryDB-Natural-Language/gateway"
	"github.com/gv211432/QueryDB-Natural-Language/handler"
	"github.com/gv211432/QueryDB-Natural-Language/logging"
	"github.com/gv211432/QueryDB-Natural-Language/model"
)

const shutdownTimeout = 15 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:           "querydb",
	Short:         "Natural-language database query proxy",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (environment variables override it)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.Server.Mode)

	db, err := model.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	archive := model.NewArchive(db)

	gw := gateway.New(cfg.Backend.URL, cfg.Backend.Timeout(), logger.Named("gateway"))

	hub := handler.NewHub(&cfg.WebSocket, logger.Named("ws"))
	registry := handler.NewRegistry(hub, gw, archive, cfg.Session.IdleTimeout(), logger.Named("session"), func(id string) {
		if err := archive.MarkEnded(context.Background(), id, time.Now()); err != nil {
			logger.Warn("Failed to mark conversation ended", zap.String("session_id", id), zap.Error(err))
		}
	})
	dispatcher := handler.NewDispatcher(hub, registry, logger.Named("ws"))
	dispatcher.Start()

	router := handler.NewRouter(handler.RouterConfig{
		FrontendURL: cfg.Server.FrontendURL,
		Logger:      logger,
		Proxy:       &handler.ProxyHandler{Gateway: gw},
		Sessions: &handler.SessionHandler{
			Registry:   registry,
			Hub:        hub,
			History:    archive,
			Store:      handler.NewCookieStore(cfg.Session),
			CookieName: cfg.Session.CookieName,
			Logger:     logger.Named("session"),
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.String("addr", srv.Addr),
			zap.String("backend", gw.Endpoint()),
			zap.String("database", cfg.Database.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	dispatcher.Close()
	hub.CloseAll()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("Round trips still running at shutdown", zap.Int("in_flight", dispatcher.InFlight()))
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}
