package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/ipmbridge/api/handlers"
	"github.com/remote-agent-terminal/ipmbridge/internal/bridge"
	"github.com/remote-agent-terminal/ipmbridge/internal/db"
	"github.com/remote-agent-terminal/ipmbridge/internal/repository"
)

const shutdownTimeout = 5 * time.Second

var serveRelease bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and panel websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRelease, "release", false, "run gin in release mode")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveRelease {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.CloseDB()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := repository.NewSessionRepository(database)
	if n, err := repo.CloseStale(ctx); err != nil {
		log.Printf("Failed to close stale sessions: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d stale sessions closed", n)
	}

	service := bridge.New(bridge.Options{Config: cfg, Repo: repo})
	defer service.Shutdown()

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: handlers.NewRouter(service),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
