package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/learnlog/internal/api"
	"github.com/thebtf/learnlog/internal/config"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 30 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Long: `Starts the read-only JSON API, the scheduled maintenance job and a
watcher that applies log level and search cache changes from the config
file without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

// servingTTL caps a configured cache TTL at ceiling. A zero ceiling keeps
// the configured value.
func servingTTL(configured, ceiling time.Duration) time.Duration {
	if ceiling > 0 && (configured <= 0 || configured > ceiling) {
		return ceiling
	}
	return configured
}

func applyServingTTLs(a *app, c *config.Config, ceiling time.Duration) {
	a.search.SetCacheTTL(servingTTL(c.Search.CacheTTL.Std(), ceiling))
	a.analytics.SetCacheTTL(servingTTL(c.Analytics.CacheTTL.Std(), ceiling))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("version", Version).
		Str("driver", a.store.Dialect()).
		Bool("full_text", a.store.FullTextEnabled()).
		Msg("Starting learnlog server")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverCfg := a.cfg.Server
	if serveAddr != "" {
		serverCfg.Addr = serveAddr
	}
	srv := api.NewServer(serverCfg, api.Deps{
		Health:      a.store,
		Search:      a.search,
		Analytics:   a.analytics,
		Recommender: a.recommender,
		History:     a.learning,
	}, log.Logger)
	applyServingTTLs(a, a.cfg, serverCfg.CacheTTL.Std())
	if err := srv.Start(); err != nil {
		return err
	}

	if err := a.maintenance.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start maintenance scheduler")
	}

	if _, err := os.Stat(cfgFile); err == nil {
		if err := config.Watch(ctx, cfgFile, func(c *config.Config) {
			zerolog.SetGlobalLevel(c.Level())
			applyServingTTLs(a, c, c.Server.CacheTTL.Std())
		}); err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable")
		}
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.maintenance.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Server shutdown complete")
	return nil
}
