package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a SQL query against the store",
		Long: `Run one SQL statement against the configured store and print the
rows. Arguments are joined with spaces, so quoting the statement is
optional.

Examples:
  snapfs-agent query "SELECT path, size FROM files ORDER BY size DESC LIMIT 10"
  snapfs-agent query --format json SELECT COUNT(*) AS n FROM files`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, strings.Join(args, " "), cmd)
		},
	}
}

func runQuery(opts *RootOptions, query string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(ctx, cfg.StoreURL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open store", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	rows, err := st.Query(ctx, query)
	if err != nil {
		_ = formatter.Error("E_QUERY", err.Error(), nil)
		return WrapExitError(ExitCommandError, "query failed", err)
	}
	return formatter.Rows(rows)
}
