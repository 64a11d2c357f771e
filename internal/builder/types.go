package builder

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/sierra"
)

// Prime is the felt252 modulus, 2^251 + 17*2^192 + 1.
var Prime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
	return p.Add(p, big.NewInt(1))
}()

const (
	feltWidth = 256
	gasWidth  = 128
	rcWidth   = 64
)

// unsignedWidth returns N for the u8..u128 generic type names.
func unsignedWidth(generic string) (int, bool) {
	if !strings.HasPrefix(generic, "u") {
		return 0, false
	}
	w, err := strconv.Atoi(generic[1:])
	if err != nil {
		return 0, false
	}
	switch w {
	case 8, 16, 32, 64, 128:
		return w, true
	}
	return 0, false
}

// innerType returns the type argument of wrappers such as NonZero<T>.
func innerType(t *sierra.TypeDeclaration) (*sierra.TypeDeclaration, error) {
	if len(t.Args) != 1 || t.Args[0].Kind != sierra.ArgType {
		return nil, fmt.Errorf("type '%s' expects a single type argument", t.ID)
	}
	return t.Args[0].Type, nil
}

// lowerType maps a Sierra type to its integer representation.
func (m *moduleBuilder) lowerType(t *sierra.TypeDeclaration) (mlir.Type, error) {
	if lt, ok := m.typeCache[t]; ok {
		return lt, nil
	}
	var width int
	switch t.Generic {
	case "felt252":
		width = feltWidth
	case "GasBuiltin":
		width = gasWidth
	case "RangeCheck":
		width = rcWidth
	case "Uninitialized":
		// Zero sized; a placeholder bit keeps the variable in the environment.
		width = 1
	case "NonZero":
		inner, err := innerType(t)
		if err != nil {
			return nil, err
		}
		lt, err := m.lowerType(inner)
		if err != nil {
			return nil, err
		}
		m.typeCache[t] = lt
		return lt, nil
	default:
		w, ok := unsignedWidth(t.Generic)
		if !ok {
			return nil, fmt.Errorf("type '%s' is not supported", t.ID)
		}
		width = w
	}
	lt := m.ctx.IntegerType(width)
	m.typeCache[t] = lt
	return lt, nil
}

// isBuiltin reports whether values of t are supplied by the entry wrapper
// rather than produced by the program.
func isBuiltin(t *sierra.TypeDeclaration) bool {
	return t.Generic == "GasBuiltin" || t.Generic == "RangeCheck"
}

// feltConstant reduces v into [0, P).
func feltConstant(v *big.Int) *big.Int {
	r := new(big.Int).Mod(v, Prime)
	return r
}
