package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasebee/leasebee-cli/internal/server"
	"github.com/leasebee/leasebee-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the LeaseBee API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initServerStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sch, err := localSchema()
		if err != nil {
			return err
		}

		var extractor server.Extractor
		if cfg.Server.ExtractorURL != "" {
			extractor = server.NewWebhookExtractor(cfg.Server.ExtractorURL, nil)
		} else {
			zap.L().Warn("no extractor_url configured; extraction requests will be rejected")
		}

		api := server.New(st, extractor,
			server.WithSchema(sch),
			server.WithTrackerTTL(time.Duration(cfg.Server.TrackerTTLSecs)*time.Second),
			server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func initServerStore(ctx context.Context) (store.Store, error) {
	if cfg.Server.DatabaseURL == "" {
		zap.L().Warn("no database_url configured; leases are kept in memory")
		return store.NewMemory(), nil
	}
	st, err := store.NewPostgres(ctx, cfg.Server.DatabaseURL, nil)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
