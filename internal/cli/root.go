package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/indexer-base/internal/control"
	"github.com/vietddude/indexer-base/internal/core/config"
	"github.com/vietddude/indexer-base/internal/infra/storage/postgres"
)

var (
	cfgPath     string
	isDebug     bool
	endHeight   uint64
	skipGenesis bool
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "NEAR block indexer",
	Long: `Indexer reads NEAR blocks from a lake bucket or an archival node and
stores blocks, chunks and account state in PostgreSQL.`,
	Run: runIndexer,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: built-in template driven by environment variables)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().Uint64Var(&endHeight, "end-height", 0, "stop after committing this height (0 = follow the chain)")
	rootCmd.Flags().BoolVar(&skipGenesis, "skip-genesis", false, "do not load the genesis snapshot")
}

// loadConfig reads .env and the config file, then sets up logging.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// openDB connects to PostgreSQL for the maintenance commands.
func openDB(ctx context.Context, cfg *config.AppConfig) *postgres.DB {
	if cfg.Database.URL == control.MemoryURL {
		fmt.Println("The in-memory store has no persistent state to inspect")
		os.Exit(1)
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db
}

func runIndexer(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.New(ctx, cfg, control.Options{
		EndHeight:   endHeight,
		SkipGenesis: skipGenesis,
	})
	if err != nil {
		slog.Error("Failed to initialize indexer", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start indexer", "error", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	slog.Info("Indexer running", "network", cfg.Network, "source", cfg.Source.DataSource)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case <-app.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Indexer.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	if err := app.Err(); err != nil {
		os.Exit(1)
	}
}
