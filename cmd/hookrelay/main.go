package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/hookrelay/internal/api"
	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/forward"
	"github.com/shohag/hookrelay/internal/logging"
	"github.com/shohag/hookrelay/internal/manifest"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/relay"
	"github.com/shohag/hookrelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookrelay",
		Short: "hookrelay: virtual webhook endpoints with capture and replay",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(endpointCmd(&configPath))
	rootCmd.AddCommand(relayCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hookrelay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, closer := logging.New(cfg.Logging)
			if closer != nil {
				defer closer.Close()
			}

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			direct := forward.NewDirect(cfg.Forward.Timeout)
			if cfg.Forward.MaxResponseBytes > 0 {
				direct.SetMaxResponseBytes(cfg.Forward.MaxResponseBytes)
			}

			var hub *relay.Hub
			var bridge forward.Bridge
			if cfg.Relay.Enabled {
				hub = relay.NewHub(relay.HubConfig{
					Secret:          cfg.Relay.Secret,
					ProbeTimeout:    cfg.Relay.ProbeTimeout,
					HeartbeatWindow: cfg.Relay.HeartbeatWindow,
					ForwardTimeout:  cfg.Forward.Timeout,
				}, log)
				bridge = hub
			}
			fwd := forward.New(direct, bridge, store, log)

			server := api.NewServer(cfg.Server, store, fwd, hub, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Bool("relay", cfg.Relay.Enabled).
				Str("storage", cfg.Storage.Driver).
				Msg("hookrelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			log.Info().Msg("hookrelay stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, closer := logging.New(cfg.Logging)
			if closer != nil {
				defer closer.Close()
			}

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func endpointCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage virtual webhook endpoints",
	}

	// endpoint create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			if path == "" {
				return fmt.Errorf("--path is required")
			}
			name, _ := cmd.Flags().GetString("name")
			method, _ := cmd.Flags().GetString("method")
			status, _ := cmd.Flags().GetInt("status")
			data, _ := cmd.Flags().GetString("response")

			spec := manifest.EndpointSpec{
				Name:           name,
				Path:           path,
				Method:         method,
				ResponseStatus: status,
			}
			if data != "" {
				spec.SetResponseJSON(data)
			}
			if token, _ := cmd.Flags().GetString("bearer-token"); token != "" {
				spec.Auth = &manifest.AuthSpec{Type: models.AuthBearer, Token: token}
			}

			ep, err := spec.Endpoint(time.Now().UTC())
			if err != nil {
				return err
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.CreateEndpoint(context.Background(), ep); err != nil {
				if errors.Is(err, storage.ErrDuplicatePath) {
					return fmt.Errorf("path %q already exists", ep.Path)
				}
				return fmt.Errorf("failed to create endpoint: %w", err)
			}

			out, _ := json.MarshalIndent(ep, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "endpoint name")
	createCmd.Flags().String("path", "", "path under /webhook/")
	createCmd.Flags().String("method", models.MethodAny, "accepted method or ANY")
	createCmd.Flags().Int("status", http.StatusOK, "status code to reply with")
	createCmd.Flags().String("response", "", "JSON body to reply with")
	createCmd.Flags().String("bearer-token", "", "require this bearer token")

	// endpoint list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			eps, err := store.ListEndpoints(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list endpoints: %w", err)
			}

			if len(eps) == 0 {
				fmt.Println("No endpoints found.")
				return nil
			}

			for _, ep := range eps {
				state := "enabled"
				if !ep.Enabled {
					state = "disabled"
				}
				fmt.Printf("  %s  %-7s /webhook/%s  %d  %s\n", ep.ID, ep.Method, ep.Path, ep.ResponseStatus, state)
			}
			return nil
		},
	}

	// endpoint apply
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update endpoints from a YAML manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			m, err := manifest.LoadFile(file)
			if err != nil {
				return err
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := manifest.Apply(context.Background(), store, m)
			printApply(cmd.OutOrStdout(), res)
			return err
		},
	}
	applyCmd.Flags().StringP("file", "f", "", "manifest file")

	cmd.AddCommand(createCmd, listCmd, applyCmd)
	return cmd
}

func printApply(w io.Writer, res *manifest.Result) {
	if res == nil {
		return
	}
	for _, p := range res.Created {
		fmt.Fprintf(w, "  created  /webhook/%s\n", p)
	}
	for _, p := range res.Updated {
		fmt.Fprintf(w, "  updated  /webhook/%s\n", p)
	}
}

func relayCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay agent that forwards to targets only this machine can reach",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, closer := logging.New(cfg.Logging)
			if closer != nil {
				defer closer.Close()
			}

			hubURL := cfg.Relay.HubURL
			if u, _ := cmd.Flags().GetString("hub"); u != "" {
				hubURL = u
			}

			direct := forward.NewDirect(cfg.Forward.Timeout)
			if cfg.Forward.MaxResponseBytes > 0 {
				direct.SetMaxResponseBytes(cfg.Forward.MaxResponseBytes)
			}

			agent := relay.NewAgent(relay.AgentConfig{
				HubURL:         hubURL,
				AgentID:        cfg.Relay.AgentID,
				Secret:         cfg.Relay.Secret,
				Workers:        cfg.Relay.Workers,
				ReconnectDelay: cfg.Relay.ReconnectDelay,
			}, direct, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Str("hub", hubURL).Msg("relay agent starting")
			return agent.Run(ctx)
		},
	}
	cmd.Flags().String("hub", "", "hub WebSocket URL (overrides relay.hub_url)")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show endpoint, capture and forward counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hookrelay v%s\n", version)
		},
	}
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, closer := logging.New(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() {
		store.Close()
		if closer != nil {
			closer.Close()
		}
	}, nil
}
