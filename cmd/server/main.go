package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/api/handlers"
	"github.com/rudeworld/omnicon-web/internal/capability"
	"github.com/rudeworld/omnicon-web/internal/config"
	"github.com/rudeworld/omnicon-web/internal/db"
	"github.com/rudeworld/omnicon-web/internal/execrunner"
	"github.com/rudeworld/omnicon-web/internal/logging"
	"github.com/rudeworld/omnicon-web/internal/pty"
	"github.com/rudeworld/omnicon-web/internal/repository"
	"github.com/rudeworld/omnicon-web/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0o755); err != nil {
		return err
	}

	conn, err := db.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	repo := repository.NewHistoryRepository(conn, log)
	historyHandler := handlers.NewHistoryHandler(repo, log)

	runner := execrunner.NewRunner(execrunner.Options{
		DefaultTimeout: cfg.Exec.DefaultTimeout,
		MaxTimeout:     cfg.Exec.MaxTimeout,
		MaxOutputBytes: cfg.Exec.MaxOutputBytes,
	}, log)
	execHandler := handlers.NewExecHandler(runner, repo, log)

	mode := capability.Detect(cfg.Terminal.Mode, pty.Probe, log)

	var transport handlers.Transport
	var registry *session.Registry
	if mode == capability.ModeInteractive {
		if cfg.Terminal.RecordSessions {
			if err := os.MkdirAll(cfg.Terminal.RecordDir, 0o755); err != nil {
				return err
			}
		}
		registry = session.NewRegistry(session.Options{
			Shell:          cfg.Terminal.Shell,
			MaxSessions:    cfg.Terminal.MaxSessions,
			IdleTimeout:    cfg.Terminal.IdleTimeout,
			CloseGrace:     cfg.Terminal.CloseGrace,
			ScrollbackSize: cfg.Terminal.ScrollbackSize,
			RecordSessions: cfg.Terminal.RecordSessions,
			RecordDir:      cfg.Terminal.RecordDir,
		}, repo, log)
		transport = handlers.NewInteractiveTransport(registry, execHandler, historyHandler, cfg.Terminal.SendQueueDepth, log)
	} else {
		transport = handlers.NewFallbackTransport(execHandler, historyHandler, log)
	}

	log.Info("terminal transport selected", zap.String("mode", string(transport.Mode())))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "mode": transport.Mode()})
	})

	transport.Register(router.Group("/api/terminal"))

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}

	if registry != nil {
		registry.CloseAll()
	}

	log.Info("bye")
	return nil
}
