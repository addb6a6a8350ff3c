package main

import (
	"fmt"
	"os"

	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/engine"
	"github.com/feedbackloop/question-engine/internal/notifications"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

var (
	databasePath string
	verbose      bool
)

func main() {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "questionctl",
		Short:   "Admin tool for the question selection engine",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetLevel(logrus.WarnLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&databasePath, "db", "", "database path (overrides DATABASE_PATH, \"memory\" for in-process)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(selectCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(selftestCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment configuration and applies the --db flag
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if databasePath != "" {
		cfg.DatabasePath = databasePath
	}
	return cfg, nil
}

// openEngine wires an engine against the configured store, printing
// notifications to the terminal instead of delivering them.
func openEngine(cfg *config.Config) (*engine.Service, storage.Store, error) {
	store, err := storage.OpenStore(cfg.DatabasePath, cfg.MigrationsDir)
	if err != nil {
		return nil, nil, err
	}
	archive, err := storage.OpenArchive(cfg.StorageAccount, cfg.StorageContainer, cfg.ArchiveDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	var notifier notifications.NotificationInterface = &consoleNotifier{}
	return engine.NewService(cfg, store, archive, notifier), store, nil
}
