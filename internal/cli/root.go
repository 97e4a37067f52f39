package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/vecarvs/internal/client"
	"github.com/lazypower/vecarvs/internal/config"
	"github.com/lazypower/vecarvs/internal/store"
)

var (
	configPath string
	rawUnits   bool
)

var rootCmd = &cobra.Command{
	Use:          "vecarvs",
	Short:        "Voting-escrow ledger with epoch checkpoints",
	Long:         "vecarvs locks tokens for a chosen number of epochs and tracks the linearly decaying voting balance of every identity, queryable at any past timestamp.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.vecarvs/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&rawUnits, "raw", false, "Read and print amounts in base units")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(supplyCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(creditCmd)
	rootCmd.AddCommand(eventsCmd)
}

// loadConfig reads and validates the config file, falling back to defaults
// when it does not exist.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDB opens the configured database for commands that bypass the
// server.
func openDB(cfg *config.Config) (*store.DB, string, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, dbPath, nil
}

func newClient() (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return client.New(cfg.ServerURL()), cfg, nil
}
