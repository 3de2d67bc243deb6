package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperbola/sessiond/pkg/config"
	"github.com/hyperbola/sessiond/pkg/gateway"
	"github.com/hyperbola/sessiond/pkg/lifecycle"
	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/metrics"
	"github.com/hyperbola/sessiond/pkg/naming"
	"github.com/hyperbola/sessiond/pkg/orchestrator"
	"github.com/hyperbola/sessiond/pkg/registry"
	"github.com/hyperbola/sessiond/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "sessiond - session control plane for per-user environments",
	Long: `sessiond provisions and manages isolated per-user workspace
environments on Kubernetes: one deployment, service, TLS ingress and
persistent volume per session, tracked in Redis with a full lifecycle
state machine and a chat routing fast path.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sessiond version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane API server",
	Long: `Run the control plane API server.

Configuration comes entirely from the environment; malformed values
are rejected before the listener opens. API_KEY is required, everything
else has a default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")
		logger.Info().
			Str("version", Version).
			Str("profile", cfg.Profile.Name).
			Str("namespace", cfg.Namespace).
			Msg("Starting sessiond")

		st := store.NewRedis(store.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		defer st.Close()

		orch, err := orchestrator.New(cfg.Namespace)
		if err != nil {
			return fmt.Errorf("orchestrator setup failed: %w", err)
		}

		reg := registry.New(st, cfg.SessionTTL)
		scheme := naming.Scheme{Prefix: cfg.Profile.Prefix, Domain: cfg.BaseDomain}
		engine := lifecycle.New(st, orch, reg, scheme, lifecycle.Options{
			Image:        cfg.UserPodImage,
			Port:         cfg.UserPodPort,
			Profile:      cfg.Profile,
			BackupImage:  cfg.BackupImage,
			BackupClaim:  cfg.BackupClaim,
			RedisAddress: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		})

		collector := metrics.NewCollector(reg)
		collector.Start()
		defer collector.Stop()

		server := gateway.New(engine, reg, st, gateway.Config{
			APIKey:  cfg.APIKey,
			Version: Version,
		})

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.ListenAddr).Msg("Listening")
			if err := server.Run(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			return nil
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		}
	},
}
