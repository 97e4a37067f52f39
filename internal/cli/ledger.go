package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/lazypower/vecarvs/internal/events"
)

// --- lock command ---

var (
	lockEpochs  uint64
	lockSeconds uint64
)

var lockCmd = &cobra.Command{
	Use:   "lock <identity> <amount>",
	Short: "Lock tokens for a number of epochs",
	Long:  "Move tokens from the identity's account into the vault and open a lock position. The duration is given in epochs, or in seconds with --seconds.",
	Args:  cobra.ExactArgs(2),
	RunE:  runLock,
}

func runLock(cmd *cobra.Command, args []string) error {
	c, cfg, err := newClient()
	if err != nil {
		return err
	}
	amount, err := toBaseUnits(args[1], cfg.Ledger.Decimals)
	if err != nil {
		return err
	}

	duration := lockSeconds
	if lockEpochs > 0 {
		if lockSeconds > 0 {
			return fmt.Errorf("use either --epochs or --seconds")
		}
		h, err := c.Health()
		if err != nil {
			return err
		}
		if h.Epoch == 0 || lockEpochs > math.MaxUint64/h.Epoch {
			return fmt.Errorf("%d epochs of %ds overflows the lock duration", lockEpochs, h.Epoch)
		}
		duration = lockEpochs * h.Epoch
	}
	if duration == 0 {
		return fmt.Errorf("a duration is required: --epochs or --seconds")
	}

	pos, err := c.Lock(args[0], amount, duration)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "position %d: %s locked for %s until %s\n",
		pos.ID, fromBaseUnits(pos.Amount, cfg.Ledger.Decimals), pos.Identity, formatTS(pos.End))
	return nil
}

// --- release command ---

var releaseCmd = &cobra.Command{
	Use:   "release <identity> <positionID>",
	Short: "Release an expired lock position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("position id %q: %w", args[1], err)
		}
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		pos, err := c.Release(args[0], id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "position %d released: %s returned to %s\n",
			pos.ID, fromBaseUnits(pos.Amount, cfg.Ledger.Decimals), pos.Identity)
		return nil
	},
}

// --- balance / supply commands ---

var queryAt uint64

var balanceCmd = &cobra.Command{
	Use:   "balance <identity>",
	Short: "Show an identity's voting balance and account balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		bal, err := c.Balance(args[0], queryAt)
		if err != nil {
			return err
		}
		acct, err := c.Account(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "identity:  %s\n", bal.Identity)
		fmt.Fprintf(out, "at:        %s\n", formatTS(bal.At))
		fmt.Fprintf(out, "voting:    %s\n", fromBaseUnits(bal.Balance, cfg.Ledger.Decimals))
		fmt.Fprintf(out, "account:   %s\n", fromBaseUnits(acct.Balance, cfg.Ledger.Decimals))
		return nil
	},
}

var supplyCmd = &cobra.Command{
	Use:   "supply",
	Short: "Show the total voting balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.Supply(queryAt)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at %s\n", fromBaseUnits(s.Supply, cfg.Ledger.Decimals), formatTS(s.At))
		return nil
	},
}

// --- checkpoint command ---

var checkpointList bool

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint [identity]",
	Short: "Advance the global line, or one identity's line, to the current epoch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		identity := ""
		if len(args) == 1 {
			identity = args[0]
		}
		out := cmd.OutOrStdout()

		if checkpointList {
			points, err := c.Checkpoints(identity)
			if err != nil {
				return err
			}
			for _, p := range points {
				fmt.Fprintf(out, "epoch %-6d bias %-24s slope %s\n",
					p.Epoch, fromBaseUnits(p.Bias, cfg.Ledger.Decimals), p.Slope)
			}
			return nil
		}

		res, err := c.Checkpoint(identity)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d checkpoint(s) appended\n", res.Appended)
		return nil
	},
}

// --- positions command ---

var positionsCmd = &cobra.Command{
	Use:   "positions <identity>",
	Short: "List an identity's open lock positions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		positions, err := c.Positions(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(positions) == 0 {
			fmt.Fprintln(out, "No open positions.")
			return nil
		}
		for _, p := range positions {
			fmt.Fprintf(out, "%-6d %-24s %s -> %s\n",
				p.ID, fromBaseUnits(p.Amount, cfg.Ledger.Decimals), formatTS(p.Begin), formatTS(p.End))
		}
		return nil
	},
}

// --- credit command ---

var creditCmd = &cobra.Command{
	Use:   "credit <identity> <amount>",
	Short: "Mint tokens into an identity's account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		amount, err := toBaseUnits(args[1], cfg.Ledger.Decimals)
		if err != nil {
			return err
		}
		acct, err := c.Credit(args[0], amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now holds %s\n", acct.Identity, fromBaseUnits(acct.Balance, cfg.Ledger.Decimals))
		return nil
	},
}

// --- events command ---

var (
	eventsIdentity string
	eventsAfter    int64
	eventsLimit    int
	eventsFollow   bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the committed event log",
	Long:  "Print committed events oldest first. With --follow, stream new events over a websocket until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	c, cfg, err := newClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if eventsFollow {
		return followEvents(cmd, c.URL(), cfg.Ledger.Decimals)
	}

	entries, err := c.Events(eventsAfter, eventsIdentity, eventsLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var evt events.Event
		if err := json.Unmarshal(e.Event, &evt); err != nil {
			return fmt.Errorf("decode event %d: %w", e.Seq, err)
		}
		fmt.Fprintf(out, "%-6d %s\n", e.Seq, describe(evt, cfg.Ledger.Decimals))
	}
	return nil
}

func followEvents(cmd *cobra.Command, serverURL string, decimals int32) error {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/events/ws"
	if eventsIdentity != "" {
		wsURL += "?identity=" + url.QueryEscape(eventsIdentity)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// The first frame acknowledges the subscription.
	if _, _, err := conn.ReadMessage(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), describe(evt, decimals))
	}
}

func describe(e events.Event, decimals int32) string {
	switch e.Kind {
	case events.KindDeposit:
		return fmt.Sprintf("%s Deposit    %s position %d: %s until %s",
			formatTS(e.Timestamp), e.Identity, e.PositionID, fromBaseUnits(e.Amount, decimals), formatTS(e.End))
	case events.KindWithdraw:
		return fmt.Sprintf("%s Withdraw   %s position %d: %s",
			formatTS(e.Timestamp), e.Identity, e.PositionID, fromBaseUnits(e.Amount, decimals))
	default:
		who := e.Identity
		if who == "" {
			who = "global"
		}
		return fmt.Sprintf("%s Checkpoint %s", formatTS(e.Timestamp), who)
	}
}

func formatTS(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func init() {
	lockCmd.Flags().Uint64Var(&lockEpochs, "epochs", 0, "Lock duration in epochs")
	lockCmd.Flags().Uint64Var(&lockSeconds, "seconds", 0, "Lock duration in seconds (a multiple of the epoch)")

	balanceCmd.Flags().Uint64Var(&queryAt, "at", 0, "Unix timestamp to query (default now)")
	supplyCmd.Flags().Uint64Var(&queryAt, "at", 0, "Unix timestamp to query (default now)")

	checkpointCmd.Flags().BoolVarP(&checkpointList, "list", "l", false, "List materialized checkpoints instead of advancing")

	eventsCmd.Flags().StringVar(&eventsIdentity, "identity", "", "Only events for this identity")
	eventsCmd.Flags().Int64Var(&eventsAfter, "after", 0, "Only events after this sequence number")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Maximum number of events")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Stream new events")
}
