package mlir

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
)

// Attribute is a compile-time constant attached to an operation.
type Attribute interface {
	String() string
	isAttribute()
}

// IntegerAttr is a typed arbitrary precision integer. Values are stored in
// their unsigned representation for the attribute's width.
type IntegerAttr struct {
	Value *big.Int
	Type  Type
}

// StringAttr is a quoted string.
type StringAttr struct {
	Value string
}

// TypeAttr wraps a type.
type TypeAttr struct {
	Type Type
}

// SymbolRefAttr names a symbol in the enclosing symbol table.
type SymbolRefAttr struct {
	Name string
}

// UnitAttr is a presence marker.
type UnitAttr struct{}

func (*IntegerAttr) isAttribute()   {}
func (*StringAttr) isAttribute()    {}
func (*TypeAttr) isAttribute()      {}
func (*SymbolRefAttr) isAttribute() {}
func (*UnitAttr) isAttribute()      {}

func (a *IntegerAttr) String() string { return fmt.Sprintf("%s : %s", a.Value.String(), a.Type) }
func (a *StringAttr) String() string  { return strconv.Quote(a.Value) }
func (a *TypeAttr) String() string    { return a.Type.String() }
func (a *SymbolRefAttr) String() string {
	return "@" + quoteSymbol(a.Name)
}
func (*UnitAttr) String() string { return "unit" }

var bareSymbol = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.$]*$`)

func quoteSymbol(name string) string {
	if bareSymbol.MatchString(name) {
		return name
	}
	return strconv.Quote(name)
}

// IntAttr builds an integer attribute, normalizing v into range for t.
func IntAttr(t Type, v *big.Int) *IntegerAttr {
	width, ok := IntegerWidth(t)
	if !ok {
		return &IntegerAttr{Value: new(big.Int).Set(v), Type: t}
	}
	return &IntegerAttr{Value: Truncate(v, width), Type: t}
}

// Int64Attr is a convenience wrapper around IntAttr.
func Int64Attr(t Type, v int64) *IntegerAttr {
	return IntAttr(t, big.NewInt(v))
}

// Truncate returns v modulo 2^width as a non-negative integer.
func Truncate(v *big.Int, width int) *big.Int {
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width))
	r := new(big.Int).Mod(v, mod)
	return r
}

// ToSigned reinterprets an unsigned value of the given width as two's
// complement.
func ToSigned(v *big.Int, width int) *big.Int {
	if width == 0 || v.Bit(width-1) == 0 {
		return new(big.Int).Set(v)
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return new(big.Int).Sub(v, mod)
}
