// Package cli implements the sierra2mlir command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/config"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	ConfigPath string
	Verbose    int

	Config config.Config
	// Compiler overrides the compiler built from the configuration.
	Compiler *compiler.Compiler
}

// errReported marks a failure whose diagnostics were already printed.
var errReported = errors.New("failed")

// NewRootCommand creates the root command.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sierra2mlir",
		Short: "Compile Sierra programs to MLIR and run them",
		Long: `sierra2mlir lowers Sierra programs through the builtin, func, scf, arith
and memref dialects down to the llvm dialect. The result is printed as MLIR
or LLVM IR, or executed directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (default ./"+config.FileName+" when present)")
	cmd.PersistentFlags().CountVarP(&opts.Verbose, "verbose", "v", "log verbosity, repeat for more")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPassesCommand(opts))
	cmd.AddCommand(NewReplCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	path := o.ConfigPath
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Discover(wd)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	o.Config = cfg

	verbosity := cfg.Verbosity
	if o.Verbose > 0 {
		verbosity = o.Verbose
	}
	var logFile *string
	if cfg.LogFile != "" {
		logFile = &cfg.LogFile
	}
	commonlog.Configure(verbosity, logFile)
	return nil
}

func (o *RootOptions) compiler() *compiler.Compiler {
	if o.Compiler != nil {
		return o.Compiler
	}
	return &compiler.Compiler{Builder: builder.Builder{}, Runtime: o.Config.Runtime.Resolver()}
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	return ExecuteWith(&RootOptions{}, args, stdout, stderr)
}

func ExecuteWith(opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errReported):
		return ExitFailure
	case errors.Is(err, config.ErrInvalid):
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return ExitFailure
	}
	fmt.Fprintf(stderr, "Error: %s\n", err)
	fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", cmd.CommandPath())
	return ExitUsage
}
