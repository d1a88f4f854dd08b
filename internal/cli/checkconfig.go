package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
)

// NewCheckConfigCommand validates a matching parameters file
func NewCheckConfigCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <file>",
		Short: "Validate a Fellegi-Sunter parameters file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := matching.LoadParams(args[0])
			if err != nil {
				return err
			}

			kinds := make([]string, 0, len(params.Kinds))
			for kind := range params.Kinds {
				kinds = append(kinds, string(kind))
			}
			sort.Strings(kinds)
			for _, kind := range kinds {
				kp := params.Kinds[models.EntityKind(kind)]
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fields, upper %.2f, lower %.2f\n",
					kind, len(kp.Fields), kp.Thresholds.Upper, kp.Thresholds.Lower)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d source overrides\n", len(params.Sources))
			return nil
		},
	}
}
