package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sierra2mlir/internal/pipeline"
)

// NewPassesCommand creates the passes command, which prints the pass plan.
func NewPassesCommand(rootOpts *RootOptions) *cobra.Command {
	var optimize, execute bool

	cmd := &cobra.Command{
		Use:   "passes",
		Short: "Print the passes a compilation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seq := pipeline.ForCompile(optimize || (!cmd.Flags().Changed("optimize") && rootOpts.Config.Optimize))
			if execute {
				seq = pipeline.ForExecute()
			}
			fmt.Fprint(cmd.OutOrStdout(), seq.Describe())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&optimize, "optimize", "O", false, "plan of an optimized compile")
	cmd.Flags().BoolVar(&execute, "execute", false, "plan of run")
	cmd.MarkFlagsMutuallyExclusive("optimize", "execute")

	return cmd
}
