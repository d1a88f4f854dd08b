package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/merging"
)

// NewMergeCommand merges one entity into another by hand
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <duplicate-id> <canonical-id>",
		Short: "Merge a duplicate entity into a canonical one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connectDB(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			store := entitystore.NewPostgresStore(db, rootOpts.Logger)
			engine := merging.NewEngine(rootOpts.Logger, store, nil)
			res, err := engine.Merge(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
