package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/vecarvs/internal/events"
	"github.com/lazypower/vecarvs/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger statistics read directly from the database",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, dbPath, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	params, err := cfg.Params(time.Now())
	if err != nil {
		return err
	}
	l, err := db.LoadLedger(params)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	p := l.Params()

	version, _ := db.SchemaVersion()
	positions, _ := db.CountPositions()
	checkpoints, _ := db.CountCheckpoints(store.GlobalOwner)
	vault, _ := db.Balance(cfg.Ledger.Vault)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database:        %s (schema v%d)\n", dbPath, version)
	fmt.Fprintf(out, "Genesis:         %s\n", formatTS(p.Genesis))
	fmt.Fprintf(out, "Epoch:           %s\n", time.Duration(p.EpochDuration)*time.Second)
	fmt.Fprintf(out, "Staking factor:  %d\n", p.StakingFactor)
	fmt.Fprintf(out, "Current epoch:   %d\n", p.Epoch(uint64(time.Now().Unix())))
	fmt.Fprintf(out, "Open positions:  %d (next id %d)\n", positions, l.NextPositionID())
	fmt.Fprintf(out, "Identities:      %d\n", len(l.Identities()))
	fmt.Fprintf(out, "Global points:   %d\n", checkpoints)
	fmt.Fprintf(out, "Vault holds:     %s\n", fromBaseUnits(vault.String(), cfg.Ledger.Decimals))
	fmt.Fprintf(out, "Total supply:    %s\n", fromBaseUnits(l.TotalSupplyAt(uint64(time.Now().Unix())).String(), cfg.Ledger.Decimals))

	fmt.Fprintln(out, "Events:")
	for _, kind := range []events.Kind{events.KindDeposit, events.KindWithdraw, events.KindCheckpoint} {
		n, _ := db.CountEvents(string(kind))
		fmt.Fprintf(out, "  %-12s %d\n", kind, n)
	}
	return nil
}
