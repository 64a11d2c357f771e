package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sierra2mlir/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Optimize     bool
	DebugInfo    bool
	Emit         string
	Output       string
	MainPrint    bool
	PrintFD      int
	AvailableGas uint64
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <file.sierra>",
		Short: "Lower a Sierra program and print the result",
		Long: `Lower a Sierra program to the llvm dialect and print it as MLIR, or
translate it further to LLVM IR with --emit llvm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVarP(&opts.Optimize, "optimize", "O", false, "run the optimization passes")
	cmd.Flags().BoolVarP(&opts.DebugInfo, "debug-info", "g", false, "annotate operations with source locations")
	cmd.Flags().StringVar(&opts.Emit, "emit", "mlir", "output format (mlir|llvm)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().BoolVar(&opts.MainPrint, "main-print", false, "make main print its results")
	cmd.Flags().IntVar(&opts.PrintFD, "print-fd", 1, "file descriptor main prints to")
	cmd.Flags().Uint64Var(&opts.AvailableGas, "available-gas", 0, "meter gas with this budget")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions, path string) error {
	cfg := opts.Config
	flags := cmd.Flags()
	if !flags.Changed("optimize") {
		opts.Optimize = cfg.Optimize
	}
	if !flags.Changed("debug-info") {
		opts.DebugInfo = cfg.DebugInfo
	}
	if !flags.Changed("emit") {
		opts.Emit = cfg.Emit
	}
	if !flags.Changed("main-print") {
		opts.MainPrint = cfg.Run.MainPrint
	}
	if !flags.Changed("print-fd") {
		opts.PrintFD = cfg.Run.PrintFD
	}
	if opts.Emit != "mlir" && opts.Emit != "llvm" {
		return fmt.Errorf("invalid --emit %q: must be mlir or llvm", opts.Emit)
	}

	start := time.Now()
	src, err := readSource(path)
	if err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}
	program, err := src.parse()
	if err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}
	src.warn(cmd.ErrOrStderr(), program)

	co := compiler.CompileOptions{
		Optimized:    opts.Optimize,
		DebugInfo:    opts.DebugInfo,
		MainPrint:    opts.MainPrint,
		PrintFD:      opts.PrintFD,
		AvailableGas: gasFlag(cmd, opts.AvailableGas, cfg.Run.AvailableGas),
	}
	c := opts.compiler()
	var text string
	if opts.Emit == "llvm" {
		text, err = c.CompileLLVM(program, co)
	} else {
		text, err = c.Compile(program, co)
	}
	if err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}

	if opts.Output == "" {
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	}
	if err := os.WriteFile(opts.Output, []byte(text), 0o644); err != nil {
		return src.fail(cmd.ErrOrStderr(), err)
	}
	color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Compiled %s to %s in %s\n", path, opts.Output, formatDuration(time.Since(start)))
	return nil
}

// gasFlag returns the flag value when given, else the configured budget.
func gasFlag(cmd *cobra.Command, flag uint64, configured *uint64) *uint64 {
	if cmd.Flags().Changed("available-gas") {
		return &flag
	}
	return configured
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
