package main

import (
	"fmt"
	"io"
	"time"

	"facette.io/natsort"
	"github.com/spf13/cobra"

	"github.com/amp-labs/osf-moderation/collections"
	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/amp-labs/osf-moderation/reviews"
	"github.com/amp-labs/osf-moderation/sanctions"
	"github.com/amp-labs/osf-moderation/statemachine/validator"
	"github.com/amp-labs/osf-moderation/statemachine/visualizer"
	"github.com/amp-labs/osf-moderation/store/memstore"
	"github.com/amp-labs/osf-moderation/tokens"
	wf "github.com/amp-labs/osf-moderation/workflows"
)

func newTablesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Inspect the embedded transition tables",
	}

	var strict bool

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Build every engine and lint every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := buildEngines(a); err != nil {
				return err
			}

			return lintTables(cmd.OutOrStdout(), strict)
		},
	}
	validate.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")

	diagram := &cobra.Command{
		Use:       "diagram <table>",
		Short:     "Print a table as a Mermaid state diagram",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: wf.TableNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := wf.Load(args[0])
			if err != nil {
				return err
			}

			out, err := visualizer.GenerateMermaid(table)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), out)

			return err
		},
	}

	cmd.AddCommand(validate, diagram)

	return cmd
}

// buildEngines constructs every service against a scratch store, which
// checks that each table's callbacks are all registered.
func buildEngines(a *app) error {
	st := memstore.New(time.Now)

	issuer, err := tokens.NewIssuer(a.cfg.Secret())
	if err != nil {
		return err
	}

	var errs moderrors.Collection

	if _, err := sanctions.New(st, issuer, sanctions.WithLogger(a.log)); err != nil {
		errs.Addf("sanctions: %w", err)
	}

	if _, err := reviews.New(st, reviews.WithLogger(a.log)); err != nil {
		errs.Addf("reviews: %w", err)
	}

	if _, err := collections.New(st, collections.WithLogger(a.log)); err != nil {
		errs.Addf("collections: %w", err)
	}

	return errs.GetError()
}

func lintTables(w io.Writer, strict bool) error {
	var errs moderrors.Collection

	for _, name := range wf.TableNames() {
		table, err := wf.Load(name)
		if err != nil {
			errs.Addf("%s: %w", name, err)

			continue
		}

		result := validator.Validate(table)
		if strict {
			result = validator.ValidateStrict(table)
		}

		var lines []string
		for _, e := range result.Errors {
			lines = append(lines, fmt.Sprintf("error   %s: %s (%s)", e.Location, e.Message, e.Code))
		}

		for _, warn := range result.Warnings {
			lines = append(lines, fmt.Sprintf("warning %s: %s (%s)", warn.Location, warn.Message, warn.Code))
		}

		natsort.Sort(lines)

		status := "ok"
		if !result.Valid {
			status = "invalid"

			errs.Addf("%s: %d lint errors", name, len(result.Errors))
		}

		if _, err := fmt.Fprintf(w, "%s: %s\n", name, status); err != nil {
			return err
		}

		for _, line := range lines {
			if _, err := fmt.Fprintf(w, "  %s\n", line); err != nil {
				return err
			}
		}
	}

	return errs.GetError()
}
