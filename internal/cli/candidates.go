package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/matching"
)

// NewCandidatesCommand runs tiered candidate generation over unlinked source records
func NewCandidatesCommand(rootOpts *RootOptions) *cobra.Command {
	var opts matching.BatchOptions

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Suggest canonical people for unlinked source records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connectDB(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			gen := matching.NewCandidateGenerator(
				rootOpts.Logger,
				sourcerecord.NewRepository(db, rootOpts.Logger),
				matchcandidate.NewRepository(db, rootOpts.Logger),
			)
			out, err := gen.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !opts.DryRun {
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&opts.Source, "source", "", "only records from this source system")
	cmd.Flags().IntVar(&opts.Limit, "limit", 1000, "max source records to compare")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print candidates instead of storing them")
	return cmd
}
