package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sierra2mlir/internal/compiler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Entry        string
	MainPrint    bool
	PrintFD      int
	AvailableGas uint64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file.sierra>",
		Short: "Lower a Sierra program with optimizations and execute it",
		Long: `Lower a Sierra program with every optimization pass, bind it to the
runtime libraries and invoke the entry function. Results are printed one
per line in decimal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Entry, "entry", "main", "function to invoke")
	cmd.Flags().BoolVar(&opts.MainPrint, "main-print", false, "make main print its results")
	cmd.Flags().IntVar(&opts.PrintFD, "print-fd", 1, "file descriptor main prints to")
	cmd.Flags().Uint64Var(&opts.AvailableGas, "available-gas", 0, "meter gas with this budget")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions, path string) error {
	cfg := opts.Config
	flags := cmd.Flags()
	if !flags.Changed("entry") {
		opts.Entry = cfg.Run.Entry
	}
	if !flags.Changed("main-print") {
		opts.MainPrint = cfg.Run.MainPrint
	}
	if !flags.Changed("print-fd") {
		opts.PrintFD = cfg.Run.PrintFD
	}

	src, err := readSource(path)
	if err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}
	program, err := src.parse()
	if err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}

	engine, err := opts.compiler().Execute(program, compiler.ExecuteOptions{
		MainPrint:    opts.MainPrint,
		PrintFD:      opts.PrintFD,
		AvailableGas: gasFlag(cmd, opts.AvailableGas, cfg.Run.AvailableGas),
	})
	if err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}
	defer engine.Close()
	engine.WithOutput(1, cmd.OutOrStdout()).WithOutput(2, cmd.ErrOrStderr())

	results, err := engine.Invoke(opts.Entry)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s: %s\n", path, err)
		return errReported
	}
	if opts.MainPrint {
		return nil
	}
	for _, r := range results {
		fmt.Fprintln(cmd.OutOrStdout(), r)
	}
	return nil
}
