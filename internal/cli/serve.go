package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/lazypower/vecarvs/internal/escrow"
	"github.com/lazypower/vecarvs/internal/events"
	"github.com/lazypower/vecarvs/internal/logging"
	"github.com/lazypower/vecarvs/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and checkpoint scheduler",
	RunE:  runServe,
}

// actor adapts a context-bound run func to an oklog/run actor.
func actor(ctx context.Context, fn func(context.Context) error) (func() error, func(error)) {
	ctx, cancel := context.WithCancelCause(ctx)
	return func() error {
			return fn(ctx)
		}, func(err error) {
			cancel(err)
		}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, os.Stderr); err != nil {
		return err
	}

	db, dbPath, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	params, err := cfg.Params(time.Now())
	if err != nil {
		return fmt.Errorf("ledger params: %w", err)
	}

	bus := events.NewBus()
	bus.SubscribeAll(func(_ context.Context, e events.Event) error {
		log.Debug("event", "kind", e.Kind, "id", e.ID, "identity", e.Identity, "position", e.PositionID)
		return nil
	})
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.DialKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer pub.Close()
		bus.SubscribeAll(pub.Publish)
		log.Info("kafka sink enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	svc, err := escrow.New(db, params, escrow.WithBus(bus), escrow.WithVault(cfg.Ledger.Vault))
	if err != nil {
		return err
	}
	sched, err := escrow.NewScheduler(svc, cfg.Schedule.Checkpoint)
	if err != nil {
		return err
	}
	sched.RunNow()

	srv := server.New(db, svc, VersionString())
	addr := cfg.ListenAddr()

	fmt.Fprintf(os.Stderr, "vecarvs serving on %s\n", addr)
	fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)

	ctx := context.Background()
	var g run.Group
	g.Add(actor(ctx, func(ctx context.Context) error { return srv.Run(ctx, addr) }))
	g.Add(actor(ctx, sched.Run))
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		return nil
	}
	return err
}
