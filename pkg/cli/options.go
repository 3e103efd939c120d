package cli

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// NewOptionsCommand creates the options command.
func NewOptionsCommand(rootOpts *RootOptions) *cobra.Command {
	var req models.ColumnOptionsRequest

	cmd := &cobra.Command{
		Use:   "options <source> <table> <column>",
		Short: "Print distinct values of a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			ds, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer ds.Close()

			if err := a.ensureSynced(ctx, ds, args[1]); err != nil {
				return err
			}
			values, err := ds.GetColumnOptions(ctx, args[1], args[2], req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"column": args[2],
				"values": values,
			})
		},
	}

	cmd.Flags().StringVar(&req.SearchText, "search", "", "only values containing this text")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum values (default query.options_limit)")
	cmd.Flags().BoolVar(&req.CaseSensitive, "case-sensitive", false, "match --search case-sensitively")
	return cmd
}
