package compiler

import "sierra2mlir/internal/mlir"

// LoweredDialects are the only dialects a module may use after the
// pipeline.
var LoweredDialects = []string{"builtin", "llvm"}

// verified reports whether m is structurally valid and fully lowered. The
// reason for a failure is only logged.
func verified(m *mlir.Module) bool {
	if err := mlir.Verify(m.Operation()); err != nil {
		log.Debugf("verification failed: %s", err)
		return false
	}
	if err := mlir.VerifyLegal(m.Operation(), LoweredDialects...); err != nil {
		log.Debugf("module is not fully lowered: %s", err)
		return false
	}
	return true
}
