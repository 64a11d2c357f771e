package mlir

import (
	"fmt"
	"strings"
)

// Type is an interned IR type. Types created through the same Context are
// unique, so two types are equal exactly when they are the same value.
type Type interface {
	String() string
	isType()
}

// IntegerType is a signless integer of arbitrary bit width.
type IntegerType struct {
	Width int
}

// IndexType is the target-sized integer used for addressing.
type IndexType struct{}

// MemRefType is a statically shaped, rank-1 buffer of elements.
type MemRefType struct {
	Size int
	Elem Type
}

// FunctionType is the signature of func.func operations.
type FunctionType struct {
	Inputs  []Type
	Results []Type
}

// PointerType is the opaque LLVM pointer.
type PointerType struct{}

// VoidType is the LLVM void result.
type VoidType struct{}

// StructType is an LLVM literal struct.
type StructType struct {
	Fields []Type
}

// LLVMFunctionType is the signature of llvm.func operations.
type LLVMFunctionType struct {
	Result Type
	Params []Type
}

func (*IntegerType) isType()      {}
func (*IndexType) isType()        {}
func (*MemRefType) isType()       {}
func (*FunctionType) isType()     {}
func (*PointerType) isType()      {}
func (*VoidType) isType()         {}
func (*StructType) isType()       {}
func (*LLVMFunctionType) isType() {}

func (t *IntegerType) String() string { return fmt.Sprintf("i%d", t.Width) }
func (*IndexType) String() string     { return "index" }
func (t *MemRefType) String() string  { return fmt.Sprintf("memref<%dx%s>", t.Size, t.Elem) }
func (*PointerType) String() string   { return "!llvm.ptr" }
func (*VoidType) String() string      { return "!llvm.void" }

func (t *FunctionType) String() string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(joinTypes(t.Inputs))
	b.WriteString(") -> ")
	if len(t.Results) == 1 {
		if _, isFn := t.Results[0].(*FunctionType); !isFn {
			b.WriteString(t.Results[0].String())
			return b.String()
		}
	}
	b.WriteString("(")
	b.WriteString(joinTypes(t.Results))
	b.WriteString(")")
	return b.String()
}

func (t *StructType) String() string {
	return "!llvm.struct<(" + joinTypes(t.Fields) + ")>"
}

func (t *LLVMFunctionType) String() string {
	return fmt.Sprintf("!llvm.func<%s (%s)>", t.Result, joinTypes(t.Params))
}

func joinTypes(types []Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// IsInteger reports whether t is an integer type, optionally of the given width.
func IsInteger(t Type, width ...int) bool {
	it, ok := t.(*IntegerType)
	if !ok {
		return false
	}
	return len(width) == 0 || it.Width == width[0]
}

// IntegerWidth returns the bit width of integer-like types. Index is treated
// as 64 bits wide.
func IntegerWidth(t Type) (int, bool) {
	switch tt := t.(type) {
	case *IntegerType:
		return tt.Width, true
	case *IndexType:
		return 64, true
	}
	return 0, false
}

// SizeOf returns the allocation size in bytes of a type, as used by the
// execution engine's memory model.
func SizeOf(t Type) int {
	switch tt := t.(type) {
	case *IntegerType:
		return (tt.Width + 7) / 8
	case *IndexType, *PointerType:
		return 8
	case *StructType:
		size := 0
		for _, f := range tt.Fields {
			size += SizeOf(f)
		}
		return size
	case *MemRefType:
		return tt.Size * SizeOf(tt.Elem)
	}
	return 0
}
