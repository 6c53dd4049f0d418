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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gopherai-rag/internal/bootstrap"
	"gopherai-rag/internal/pkg/logutil"
	httptransport "gopherai-rag/internal/transport/http"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "gopherai-rag",
		Short: "retrieval-augmented chat server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (defaults to CONFIG_FILE or configs/config.toml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the http server, ingest worker and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap.Migrate(cmd.Context(), configPath)
		},
	}

	var days int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "delete sessions inactive for more than --days days",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(cmd.Context(), bootstrap.Options{ConfigPath: configPath})
			if err != nil {
				return err
			}
			defer app.Close()
			removed, err := app.Sessions.CleanupOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			app.Logger.Info("session cleanup finished", zap.Int("removed", removed), zap.Int("days", days))
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&days, "days", 30, "inactivity threshold in days")

	rootCmd.AddCommand(serveCmd, migrateCmd, cleanupCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func runServer(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, bootstrap.Options{ConfigPath: configPath, Background: true})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Warn("close resources failed", zap.Error(err))
		}
	}()

	router := httptransport.NewRouter(app)
	server := &http.Server{
		Addr:              app.Config.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		app.Logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("vector_store", app.VectorStore.Name()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	app.Logger.Info("server stopped")
	return nil
}
