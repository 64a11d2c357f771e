package cli

import (
	"github.com/spf13/cobra"

	"sierra2mlir/repl"
)

// NewReplCommand creates the interactive session command.
func NewReplCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Enter Sierra statements and run them interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return repl.Start(cmd.InOrStdin(), cmd.OutOrStdout(), repl.Options{
				Compiler:     rootOpts.compiler(),
				Entry:        rootOpts.Config.Run.Entry,
				AvailableGas: rootOpts.Config.Run.AvailableGas,
			})
		},
	}
}
