package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	blacklistrepo "github.com/Ramsey-B/fern/internal/repositories/blacklist"
	"github.com/Ramsey-B/fern/pkg/blacklist"
)

// NewBlacklistCommand groups blacklist curation commands
func NewBlacklistCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Curate identifiers that must not auto-match",
	}
	cmd.AddCommand(newBlacklistImportCommand(rootOpts))
	return cmd
}

func newBlacklistImportCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Normalize and upsert blacklist entries from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := blacklist.LoadFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d entries valid\n", len(entries))
				return nil
			}

			db, err := connectDB(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := blacklistrepo.NewRepository(db, rootOpts.Logger).Upsert(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries imported\n", len(entries))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}
