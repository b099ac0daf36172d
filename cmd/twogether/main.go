package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/twogether/internal/config"
	"github.com/dukerupert/twogether/internal/database"
	"github.com/dukerupert/twogether/internal/logging"
	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/server"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "twogether",
		Short:        "Shared journal server for couples",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./twogether.yaml)")

	root.AddCommand(serveCmd(), vapidKeysCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("port", 8080, "listen port")
	cmd.Flags().String("db", "twogether.db", "SQLite database path")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cfg.VAPID.PublicKey == "" {
		logger.Warn("VAPID keys not configured; push notifications will fail until set (see twogether vapid-keys)")
	}

	srv := server.New(db, cfg, nil, logger)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("twogether listening", "port", cfg.Port, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("push dispatcher did not drain", "error", err)
	}
	return nil
}

func vapidKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for Web Push",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "TWOGETHER_VAPID_PUBLIC_KEY=%s\n", pub)
			fmt.Fprintf(out, "TWOGETHER_VAPID_PRIVATE_KEY=%s\n", priv)
			return nil
		},
	}
}
