package diagnostics

// Diagnostic codes for the sierra2mlir toolchain.
//
// Code ranges:
// S0001-S0099: Parse errors
// S0100-S0199: Resolution errors (declarations referring to each other)
// S0200-S0299: Module construction errors
// S0300-S0399: Pass pipeline errors
// S0400-S0499: Verification errors
// S0500-S0599: Artifact emission errors
// S0800-S0899: Warnings

const (
	// S0001: The file does not match the Sierra grammar
	ErrorSyntax = "S0001"

	// S0002: The file could not be read
	ErrorUnreadableFile = "S0002"

	// S0101: A type, libfunc or function id is used but never declared
	ErrorUndeclared = "S0101"

	// S0102: The same id is declared twice
	ErrorDuplicateDeclaration = "S0102"

	// S0103: A literal or generic argument is malformed
	ErrorInvalidLiteral = "S0103"

	// S0104: A declaration is malformed
	ErrorInvalidDeclaration = "S0104"

	// S0201: The builder has no lowering for the libfunc
	ErrorUnsupportedLibfunc = "S0201"

	// S0202: A type has no IR representation
	ErrorUnsupportedType = "S0202"

	// S0203: Invocation arguments or branches do not match the libfunc
	ErrorInvalidInvocation = "S0203"

	// S0204: Any other construction failure
	ErrorConstruction = "S0204"

	// S0301: A pass failed or left the module invalid
	ErrorPipeline = "S0301"

	// S0401: The lowered module is not in the builtin and llvm dialects
	ErrorVerification = "S0401"

	// S0501: The artifact could not be produced
	ErrorEmission = "S0501"

	// S0801: A declared function is never reached from the entry point
	WarningUnusedFunction = "S0801"
)

// GetErrorDescription returns a human-readable description of the code.
func GetErrorDescription(code string) string {
	switch code {
	case ErrorSyntax:
		return "Source does not match the Sierra grammar"
	case ErrorUnreadableFile:
		return "Source file could not be read"
	case ErrorUndeclared:
		return "Identifier is used but not declared"
	case ErrorDuplicateDeclaration:
		return "Identifier is declared more than once"
	case ErrorInvalidLiteral:
		return "Literal or generic argument is malformed"
	case ErrorInvalidDeclaration:
		return "Declaration is malformed"
	case ErrorUnsupportedLibfunc:
		return "Libfunc has no lowering"
	case ErrorUnsupportedType:
		return "Type has no IR representation"
	case ErrorInvalidInvocation:
		return "Invocation does not match the libfunc signature"
	case ErrorConstruction:
		return "Module could not be constructed"
	case ErrorPipeline:
		return "Pass pipeline failed"
	case ErrorVerification:
		return "Lowered module failed verification"
	case ErrorEmission:
		return "Artifact could not be produced"
	case WarningUnusedFunction:
		return "Function is never called"
	default:
		return "Unknown diagnostic code"
	}
}

// IsWarning reports whether code is a warning rather than an error.
func IsWarning(code string) bool {
	return code >= "S0800" && code < "S0900"
}

// GetErrorCategory returns the category of the code.
func GetErrorCategory(code string) string {
	switch {
	case code >= "S0001" && code < "S0100":
		return "Parser"
	case code >= "S0100" && code < "S0200":
		return "Resolution"
	case code >= "S0200" && code < "S0300":
		return "Construction"
	case code >= "S0300" && code < "S0400":
		return "Pipeline"
	case code >= "S0400" && code < "S0500":
		return "Verification"
	case code >= "S0500" && code < "S0600":
		return "Emission"
	case IsWarning(code):
		return "Warning"
	default:
		return "Unknown"
	}
}
