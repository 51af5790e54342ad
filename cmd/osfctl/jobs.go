package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amp-labs/osf-moderation/cli"
	"github.com/amp-labs/osf-moderation/logger"
	"github.com/amp-labs/osf-moderation/sanctions"
)

type jobFlags struct {
	dryRun bool
	yes    bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "list what would change without changing it")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "do not ask for confirmation")
}

type job func(ctx context.Context, svc *sanctions.Service, now time.Time, dryRun bool) ([]string, error)

// runJob confirms, runs one sweep and prints the ids it touched.
func (a *app) runJob(cmd *cobra.Command, name, question, heading string, flags *jobFlags, fn job) error {
	ctx := logger.With(cmd.Context(), "job", name, "dry_run", flags.dryRun)
	log := logger.Get(ctx)

	if !flags.dryRun {
		ok, err := cli.ConfirmOrSkip(flags.yes, a.confirm)(question)
		if err != nil {
			return err
		}

		if !ok {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "aborted")

			return err
		}
	}

	svc, err := a.sanctions(ctx)
	if err != nil {
		return err
	}

	if flags.dryRun {
		heading += " (dry run)"
	}

	started := time.Now()
	ids, jobErr := fn(ctx, svc, a.now(), flags.dryRun)

	log.InfoContext(ctx, "job finished", "processed", len(ids), "took", time.Since(started))

	if err := cli.PrintIDs(cmd.OutOrStdout(), heading, ids); err != nil {
		return errors.Join(jobErr, err)
	}

	return logger.Annotate(jobErr, "job", name, "processed", len(ids))
}

func newApprovalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Registration approval and embargo jobs",
	}

	var (
		flags jobFlags
		after time.Duration
	)

	autoApprove := &cobra.Command{
		Use:   "auto-approve",
		Short: "Approve registrations and embargoes the admins have not acted on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window := a.cfg.AutoApproveAfter
			if after > 0 {
				window = after
			}

			question := fmt.Sprintf("Approve every sanction pending for more than %s", window)

			return a.runJob(cmd, "auto-approve", question, "approved", &flags,
				func(ctx context.Context, svc *sanctions.Service, now time.Time, dryRun bool) ([]string, error) {
					return svc.AutoApprove(ctx, now, window, dryRun)
				})
		},
	}
	flags.register(autoApprove)
	autoApprove.Flags().DurationVar(&after, "after", 0, "override APPROVAL_AUTO_APPROVE_AFTER")

	cmd.AddCommand(autoApprove)

	return cmd
}

func newEmbargoesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embargoes",
		Short: "Embargo jobs",
	}

	var flags jobFlags

	complete := &cobra.Command{
		Use:   "complete",
		Short: "Make registrations public once their embargo has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runJob(cmd, "complete-embargoes", "Complete every expired embargo", "completed", &flags,
				func(ctx context.Context, svc *sanctions.Service, now time.Time, dryRun bool) ([]string, error) {
					return svc.CompleteExpiredEmbargoes(ctx, now, dryRun)
				})
		},
	}
	flags.register(complete)

	cmd.AddCommand(complete)

	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := a.store(ctx)
			if err != nil {
				return err
			}

			m, ok := st.(migrator)
			if !ok {
				a.log.InfoContext(ctx, "store has no schema to migrate", "driver", a.cfg.DBDriver)

				return nil
			}

			if err := m.Migrate(ctx, a.log); err != nil {
				return fmt.Errorf("migrating %s: %w", a.cfg.DBDriver, err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", a.cfg.DBDriver)

			return err
		},
	}
}
