// Package config loads sierra2mlir.yaml. The file is checked against an
// embedded CUE schema before it is decoded, so unknown keys and out of
// range values are rejected with the offending path.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"sierra2mlir/internal/compiler"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "sierra2mlir.yaml"

//go:embed schema.cue
var schemaSource string

// Config holds the defaults of every command line option.
type Config struct {
	Optimize  bool    `yaml:"optimize"`
	DebugInfo bool    `yaml:"debug_info"`
	Emit      string  `yaml:"emit"`
	Verbosity int     `yaml:"verbosity"`
	LogFile   string  `yaml:"log_file"`
	Run       Run     `yaml:"run"`
	Runtime   Runtime `yaml:"runtime"`
}

type Run struct {
	Entry        string  `yaml:"entry"`
	MainPrint    bool    `yaml:"main_print"`
	PrintFD      int     `yaml:"print_fd"`
	AvailableGas *uint64 `yaml:"available_gas"`
}

// Runtime overrides how the runtime libraries are found.
type Runtime struct {
	LLVMConfig string `yaml:"llvm_config"`
	LibDir     string `yaml:"lib_dir"`
	UtilsPath  string `yaml:"utils_path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Emit: "mlir",
		Run: Run{
			Entry:   "main",
			PrintFD: 1,
		},
	}
}

// Resolver returns the runtime resolver these overrides describe.
func (r Runtime) Resolver() compiler.RuntimeResolver {
	return compiler.ToolchainRuntime{LLVMConfig: r.LLVMConfig, LibDir: r.LibDir, UtilsPath: r.UtilsPath}
}

// Discover returns the path of FileName in dir, or "" when there is none.
func Discover(dir string) string {
	p := filepath.Join(dir, FileName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Load reads the file at path over Default. An empty path yields Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes a configuration document.
func Parse(filename string, data []byte) (Config, error) {
	cfg := Default()

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("%s: %w", filename, err)
	}
	if err := validate(raw); err != nil {
		return cfg, fmt.Errorf("%s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// ErrInvalid wraps every schema violation.
var ErrInvalid = errors.New("invalid configuration")

func validate(raw map[string]interface{}) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}
