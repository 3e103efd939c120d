package cli

import (
	"github.com/spf13/cobra"
)

// NewTestConnectionCommand creates the test-connection command.
func NewTestConnectionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection <source>",
		Short: "Connect to a configured source and run a lightweight query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			src, err := a.cfg.Source(args[0])
			if err != nil {
				return err
			}
			if err := a.service.TestConnection(cmd.Context(), src); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"source": src.Name(),
				"ok":     true,
			})
		},
	}
}
