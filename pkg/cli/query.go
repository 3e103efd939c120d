package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	File   string
	DryRun bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <source> --file request.yaml",
		Short: "Compile and run a query request",
		Long: `Compile a YAML query request against the catalog and run it.

With --dry-run the compiled statement and result manifest are printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "query request file (YAML)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the compiled statement without running it")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// loadRequest decodes a YAML query request. Unknown keys are rejected.
func loadRequest(path string) (models.QueryRequest, error) {
	var req models.QueryRequest

	f, err := os.Open(path)
	if err != nil {
		return req, fmt.Errorf("open request: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, apperrors.InvalidQuery("parse %s: %v", path, err)
	}
	return req, nil
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, name string) error {
	req, err := loadRequest(opts.File)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ds, err := a.open(name)
	if err != nil {
		return err
	}
	defer ds.Close()

	if err := a.ensureSynced(ctx, ds, req.Table); err != nil {
		return err
	}

	if opts.DryRun {
		compiled, err := ds.Compile(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), compiled)
	}

	result, err := ds.ExecuteQuery(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}
