package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"portalid/internal/bootstrap"
	"portalid/internal/cli/ui"
	coreseq "portalid/internal/core/sequence"
	domainseq "portalid/internal/domain/sequence"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func (a *app) newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <sequence>",
		Short: "Print the stored counter of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, _ *bootstrap.Backend, svc *domainseq.Service) error {
				c, err := svc.Peek(ctx, args[0])
				if err != nil {
					return err
				}
				printCounter(cmd, c)
				return nil
			})
		},
	}
}

func printCounter(cmd *cobra.Command, c coreseq.Counter) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "name:        %s\n", c.Name)
	fmt.Fprintf(out, "last number: %d\n", c.LastNumber)
	fmt.Fprintf(out, "year:        %s\n", c.Year)
	fmt.Fprintf(out, "updated at:  %s\n", formatTime(c.UpdatedAt))
}

func (a *app) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, _ *bootstrap.Backend, svc *domainseq.Service) error {
				list, err := svc.List(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("no counters yet"))
					return nil
				}
				tbl := ui.NewTable(cmd.OutOrStdout(), "SEQUENCE", "YEAR", "LAST", "UPDATED")
				for _, c := range list {
					tbl.AddRow(c.Name, c.Year, c.LastNumber, formatTime(c.UpdatedAt))
				}
				tbl.Print()
				return nil
			})
		},
	}
}

func (a *app) newSetCommand() *cobra.Command {
	var (
		last  int64
		year  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "set <sequence>",
		Short: "Seed a counter so numbering continues after --last",
		Long: `Overwrite a counter. The next allocation in the same year issues last+1;
an allocation in a later year still restarts at 1. Lowering the counter, or
moving a counter that holds the current year to another year, would reissue
IDs and is refused unless --force is given.`,
		Example: "  seqctl set taskCounter --last 120 --year 25",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, _ *bootstrap.Backend, svc *domainseq.Service) error {
				epoch, err := coreseq.ParseEpoch(year)
				if err != nil {
					return err
				}
				c, err := svc.Seed(ctx, args[0], epoch, last, force)
				if err != nil {
					return err
				}
				printCounter(cmd, c)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&last, "last", 0, "last issued number (>= 1)")
	cmd.Flags().StringVar(&year, "year", "", "two-digit year, e.g. 25")
	cmd.Flags().BoolVar(&force, "force", false, "allow a seed that reissues already issued IDs")
	_ = cmd.MarkFlagRequired("last")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func (a *app) newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <sequence>",
		Short: "Show recent allocations from the audit trail (postgres only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, b *bootstrap.Backend, _ *domainseq.Service) error {
				if b.Audit == nil {
					return fmt.Errorf("history needs the postgres store with AUDIT_ENABLED=true (store is %s)", b.Kind)
				}
				entries, err := b.Audit.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				tbl := ui.NewTable(cmd.OutOrStdout(), "ID", "USER", "ALLOCATED")
				for _, e := range entries {
					tbl.AddRow(ui.IDStyle.Render(e.AllocatedID), e.UserID, formatTime(e.CreatedAt))
				}
				tbl.Print()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}
