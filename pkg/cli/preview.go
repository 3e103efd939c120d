package cli

import (
	"github.com/spf13/cobra"
)

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "preview <source> <table>",
		Short: "Print a sample of a table with its row count",
		Args:  cobra.ExactArgs(2),
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
			preview, err := ds.GetTablePreview(ctx, args[1], limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), preview)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "rows to sample (default query.preview_limit)")
	return cmd
}
