package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amp-labs/osf-moderation/bgworker"
	"github.com/amp-labs/osf-moderation/cli"
	"github.com/amp-labs/osf-moderation/config"
	"github.com/amp-labs/osf-moderation/logger"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/sanctions"
	"github.com/amp-labs/osf-moderation/shutdown"
	"github.com/amp-labs/osf-moderation/store"
	"github.com/amp-labs/osf-moderation/store/memstore"
	"github.com/amp-labs/osf-moderation/store/postgres"
	"github.com/amp-labs/osf-moderation/store/sqlite"
	"github.com/amp-labs/osf-moderation/telemetry"
	"github.com/amp-labs/osf-moderation/tokens"
)

const otelScope = "github.com/amp-labs/osf-moderation"

// deps are the seams tests replace.
type deps struct {
	loadConfig func() (*config.Config, error)
	openStore  func(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error)
	confirm    cli.Confirm
	now        func() time.Time
	logOutput  io.Writer
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.Load,
		openStore:  openStore,
		confirm:    cli.PromptConfirm,
		now:        time.Now,
		logOutput:  os.Stderr,
	}
}

type app struct {
	deps

	cfg *config.Config
	log *slog.Logger
}

// run executes one command line and then every registered shutdown hook.
func run(ctx context.Context, d deps, args []string, out io.Writer) error {
	cmd := newRootCmd(&app{deps: d})
	cmd.SetArgs(args)
	cmd.SetOut(out)

	err := cmd.ExecuteContext(ctx)

	shutdown.Run(ctx)

	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "osfctl",
		Short:         "OSF moderation maintenance",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.AddCommand(
		newTablesCmd(a),
		newApprovalsCmd(a),
		newEmbargoesCmd(a),
		newMigrateCmd(a),
	)

	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	a.cfg = cfg

	level, err := cfg.Level()
	if err != nil {
		return err
	}

	opts := []logger.Option{
		logger.WithJSON(cfg.LogJSON),
		logger.WithLevel(level),
		logger.WithOutput(a.logOutput),
	}

	logger.ConfigureLogging("osfctl", opts...)

	on, err := telemetry.Initialize(ctx, telemetry.FromConfig(cfg, version))
	if err != nil {
		return err
	}

	if on {
		logger.ConfigureLogging("osfctl", append(opts, logger.WithOTel(otelScope))...)
		shutdown.BeforeShutdown("telemetry", telemetry.Shutdown)
	}

	a.log = logger.Get(ctx)

	return nil
}

// openStore connects to the configured database. The memory driver starts
// empty on every run.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.DBDriver {
	case config.DriverSQLite:
		st, err = sqlite.Open(ctx, cfg.Postgres.DSN)
	case config.DriverPostgres:
		st, err = postgres.Connect(ctx, cfg.Postgres)
	default:
		st = memstore.New(time.Now)
	}

	if err != nil {
		return nil, err
	}

	if m, ok := st.(migrator); ok && cfg.DBMigrate {
		if err := m.Migrate(ctx, log); err != nil {
			_ = st.Close()

			return nil, err
		}
	}

	return st, nil
}

type migrator interface {
	Migrate(ctx context.Context, log *slog.Logger) error
}

// store opens the database and closes it on shutdown.
func (a *app) store(ctx context.Context) (store.Store, error) {
	st, err := a.openStore(ctx, a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.cfg.DBDriver, err)
	}

	shutdown.BeforeShutdown("store", func(context.Context) error {
		return st.Close()
	})

	return st, nil
}

// notifier delivers on a worker pool that is drained before exit.
func (a *app) notifier() (notify.Notifier, error) {
	var sender notify.Sender = notify.LogSender{Logger: a.log}

	if a.cfg.NotifySender == config.SenderPostmark {
		pm, err := notify.NewPostmarkSender(a.cfg.Postmark)
		if err != nil {
			return nil, err
		}

		sender = pm
	}

	pool := bgworker.New("notify", a.cfg.NotifyWorkers).StopOnShutdown()
	dispatcher := notify.NewDispatcher(sender,
		notify.WithMaxRetries(a.cfg.NotifyMaxRetries),
		notify.WithPool(pool))

	shutdown.BeforeShutdown("notify", func(ctx context.Context) error {
		if busy := pool.Running(); busy > 0 {
			a.log.InfoContext(ctx, "waiting for notifications", "workers", busy)
		}

		dispatcher.Wait()

		_, sent, failed := dispatcher.Stats()
		a.log.InfoContext(ctx, "notifications delivered", "sent", sent, "failed", failed)

		return nil
	})

	return dispatcher, nil
}

// issuer signs approval links with the configured secret and lifetime.
func (a *app) issuer() (*tokens.Issuer, error) {
	return tokens.NewIssuer(a.cfg.Secret(), tokens.WithClock(a.now), tokens.WithTTL(a.cfg.TokenTTL))
}

func (a *app) sanctions(ctx context.Context) (*sanctions.Service, error) {
	st, err := a.store(ctx)
	if err != nil {
		return nil, err
	}

	n, err := a.notifier()
	if err != nil {
		return nil, err
	}

	issuer, err := a.issuer()
	if err != nil {
		return nil, err
	}

	return sanctions.New(st, issuer,
		sanctions.WithNotifier(n),
		sanctions.WithDomain(a.cfg.Domain),
		sanctions.WithSupportEmail(a.cfg.SupportEmail),
		sanctions.WithContactEmail(a.cfg.ContactEmail),
		sanctions.WithClock(a.now),
		sanctions.WithLogger(a.log))
}
