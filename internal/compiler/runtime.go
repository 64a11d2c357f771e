package compiler

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"sierra2mlir/internal/jit"
)

// UtilsPath is the support library location, set at build time with
//
//	-ldflags "-X sierra2mlir/internal/compiler.UtilsPath=/path/libsierra2mlir_utils.so"
//
// When empty, $S2M_UTILS_PATH is used.
var UtilsPath string

// ToolchainRuntime resolves the runner utilities from the LLVM installation
// and the support library from UtilsPath. Empty fields fall back to the
// environment.
type ToolchainRuntime struct {
	// LLVMConfig is the llvm-config executable; defaults to $LLVM_CONFIG
	// and then llvm-config on PATH.
	LLVMConfig string
	// LibDir skips the llvm-config query when set.
	LibDir string
	// UtilsPath overrides the build time support library path.
	UtilsPath string
}

// Resolve returns the runner utilities library followed by the support
// library.
func (t ToolchainRuntime) Resolve() ([]string, error) {
	libdir := t.LibDir
	if libdir == "" {
		var err error
		if libdir, err = t.queryLibDir(); err != nil {
			return nil, err
		}
	}
	utils := t.UtilsPath
	if utils == "" {
		utils = UtilsPath
	}
	if utils == "" {
		utils = os.Getenv("S2M_UTILS_PATH")
	}
	if utils == "" {
		return nil, fmt.Errorf("support library path is not configured (set S2M_UTILS_PATH)")
	}
	runner := filepath.Join(libdir, jit.CRunnerUtils+"."+SharedLibraryExtension(runtime.GOOS))
	log.Debugf("runtime libraries: %s, %s", runner, utils)
	return []string{runner, utils}, nil
}

func (t ToolchainRuntime) queryLibDir() (string, error) {
	tool := t.LLVMConfig
	if tool == "" {
		tool = os.Getenv("LLVM_CONFIG")
	}
	if tool == "" {
		tool = "llvm-config"
	}
	var stderr bytes.Buffer
	cmd := exec.Command(tool, "--libdir")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s --libdir: %w: %s", tool, err, msg)
		}
		return "", fmt.Errorf("%s --libdir: %w", tool, err)
	}
	dir := strings.TrimSpace(string(out))
	if dir == "" {
		return "", fmt.Errorf("%s --libdir printed nothing", tool)
	}
	return dir, nil
}

// SharedLibraryExtension returns the shared library suffix used on goos.
func SharedLibraryExtension(goos string) string {
	switch goos {
	case "darwin", "ios":
		return "dylib"
	case "windows":
		return "dll"
	}
	return "so"
}

// StaticRuntime resolves to a fixed list of libraries.
type StaticRuntime []string

func (s StaticRuntime) Resolve() ([]string, error) {
	return append([]string(nil), s...), nil
}
