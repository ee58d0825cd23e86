package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"portalid/internal/bootstrap"
	coreseq "portalid/internal/core/sequence"
	domainseq "portalid/internal/domain/sequence"
)

func (a *app) newNextCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "next <sequence>",
		Short: "Allocate the next ID of a sequence",
		Example: `  seqctl next changeCounter --prefix CHG
  seqctl --store postgres --dsn postgres://localhost/portal next taskCounter --prefix Task`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.allocate(cmd, args[0], prefix)
		},
	}
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "ID prefix, e.g. Task")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func (a *app) newBuiltinCommand(use, short, kind string) *cobra.Command {
	def := coreseq.Task
	if kind == "incident" {
		def = coreseq.Incident
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.allocate(cmd, def.Name, def.Prefix)
		},
	}
}

func (a *app) allocate(cmd *cobra.Command, name, prefix string) error {
	return a.withService(cmd, func(ctx context.Context, _ *bootstrap.Backend, svc *domainseq.Service) error {
		id, err := svc.Allocate(ctx, name, prefix)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	})
}
