package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"receiptly/agent"
	"receiptly/attachment"
	"receiptly/config"
	"receiptly/provider"
	"receiptly/server"
	"receiptly/storage"
	"receiptly/telemetry"
	"receiptly/tools"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "v0.1.0"

const shutdownTimeout = 15 * time.Second

var credentialIDs = []string{"anthropic", "openai", "openrouter", "google", "jwt_secret"}

var rootCmd = &cobra.Command{
	Use:           "receiptly",
	Short:         "Assistant for purchases, receipts and warranties",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		db, err := storage.Open(cmd.Context(), cfg.Database, cfg.DataDir())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Database (%s) is up to date\n", db.Dialect())
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token for a user (development)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		auth, err := server.NewAuthenticator(cfg.Auth)
		if err != nil {
			return err
		}
		userID, _ := cmd.Flags().GetString("user")
		token, err := auth.Issue(userID)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("receiptly %s\n", Version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("config")
		if path == "" {
			path = config.DefaultConfigPath()
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteTemplate(config.ExpandPath(path), force); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored API keys and secrets",
}

var credentialsSetCmd = &cobra.Command{
	Use:       "set <id>",
	Short:     "Store a secret read from stdin",
	Long:      "Store a secret for one of: " + strings.Join(credentialIDs, ", ") + ". The value is read from the first line of stdin.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: credentialIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !slices.Contains(credentialIDs, id) {
			return fmt.Errorf("unknown credential %q (expected one of %s)", id, strings.Join(credentialIDs, ", "))
		}
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		fmt.Fprintf(os.Stderr, "Enter value for %s: ", id)
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read value: %w", err)
		}
		value := strings.TrimSpace(line)
		if value == "" {
			return errors.New("value must not be empty")
		}

		store, err := openCredentials(cfg)
		if err != nil {
			return err
		}
		store.Set(id, value)
		if err := store.Save(cfg.DataDir()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\nSaved %s (%s)\n", id, store.GetMethod())
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		store, err := openCredentials(cfg)
		if err != nil {
			return err
		}
		if store.Get(args[0]) == "" {
			return fmt.Errorf("no credential stored for %q", args[0])
		}
		store.Delete(args[0])
		return store.Save(cfg.DataDir())
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		store, err := openCredentials(cfg)
		if err != nil {
			return err
		}
		for _, id := range store.IDs() {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config.toml (default ~/.config/receiptly/config.toml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory")
	rootCmd.PersistentFlags().String("provider", "", "default AI provider (anthropic, openai, openrouter, ollama, google)")
	serveCmd.Flags().String("addr", "", "listen address")
	tokenCmd.Flags().String("user", "", "user id to put in the token")
	_ = tokenCmd.MarkFlagRequired("user")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	for _, name := range []string{"config", "data-dir", "provider"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	if err := viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("receiptly")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configCmd.AddCommand(configInitCmd)
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsDeleteCmd, credentialsListCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, versionCmd, configCmd, credentialsCmd)
}

// loadConfig reads config.toml, applies flag overrides and installs logging.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, nil, err
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.DataDirectory = v
	}
	if v := viper.GetString("provider"); v != "" {
		cfg.AI.Provider = v
	}
	if v := viper.GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}

	closer, err := config.InitLogging(cfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { closer.Close() }, nil
}

func openCredentials(cfg *config.Config) (*config.CredentialStore, error) {
	dataDir := cfg.DataDir()
	if err := config.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store := config.NewCredentialStore(cfg.Credentials.Method, config.ExpandPath(cfg.Credentials.SSHKeyPath))
	store.SetPassphrase(cfg.Credentials.Passphrase)
	if err := store.Load(dataDir); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return store, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	tracing, err := telemetry.NewProvider(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			slog.Warn("[Telemetry] tracer shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(ctx, cfg.Database, cfg.DataDir())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	blobs, err := storage.NewBlobStore(ctx, cfg.Storage, cfg.DataDir())
	if err != nil {
		return err
	}

	providers, err := provider.NewRegistry(cfg.AI, &http.Client{Timeout: 2 * time.Minute})
	if err != nil {
		return err
	}
	chosen := providers.Default()
	if !chosen.IsConfigured() {
		slog.Warn("[Provider] default provider has no credentials; chat requests will fail until one is set",
			"provider", chosen.Name())
	}

	vision := chosen
	if cfg.AI.VisionProvider != "" {
		p, ok := providers.Get(cfg.AI.VisionProvider)
		if !ok {
			return fmt.Errorf("ai.vision_provider %q is not available", cfg.AI.VisionProvider)
		}
		vision = p
	}

	auth, err := server.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics {
		metrics = telemetry.NewMetrics(telemetry.DefaultMetricsConfig())
	}

	orch := agent.New(chosen, db,
		tools.NewRegistry(db, tools.WithBlobChecker(blobs)),
		attachment.New(blobs, nil),
		agent.WithLimits(cfg.Agent),
		agent.WithChatOptions("", cfg.AI.MaxTokens, cfg.AI.Temperature),
		agent.WithObserver(metrics),
	)

	opts := []server.Option{
		server.WithProviders(providers),
		server.WithVisionProvider(vision),
		server.WithVersion(Version),
	}
	if metrics != nil {
		opts = append(opts, server.WithMetrics(metrics))
	}
	srv := server.New(cfg.Server, auth, orch, db, opts...)

	slog.Info("[Server] starting receiptly", "version", Version, "provider", chosen.Name(),
		"model", chosen.GetModel(), "database", db.Dialect(), "storage", cfg.Storage.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("[Server] shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
