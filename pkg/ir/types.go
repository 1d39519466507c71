package ir

import (
	"fmt"
	"strings"
)

// TypeKind discriminates the type variants
type TypeKind uint8

const (
	VoidTypeKind TypeKind = iota
	PtrTypeKind
	IntegerTypeKind
	FunctionTypeKind
	ArrayTypeKind
)

// Type is an IR type. Types are immutable after construction; the common
// ones are shared singletons and may be compared by pointer or with Equal.
type Type struct {
	Kind TypeKind

	IntBits int     // IntegerTypeKind
	Elem    *Type   // ArrayTypeKind
	Len     int64   // ArrayTypeKind
	Ret     *Type   // FunctionTypeKind
	Params  []*Type // FunctionTypeKind
}

// Shared singletons
var (
	VoidTy = &Type{Kind: VoidTypeKind}
	PtrTy  = &Type{Kind: PtrTypeKind}
	I1     = &Type{Kind: IntegerTypeKind, IntBits: 1}
	I8     = &Type{Kind: IntegerTypeKind, IntBits: 8}
	I16    = &Type{Kind: IntegerTypeKind, IntBits: 16}
	I32    = &Type{Kind: IntegerTypeKind, IntBits: 32}
	I64    = &Type{Kind: IntegerTypeKind, IntBits: 64}
)

// IntType returns the integer type of the given bit width
func IntType(bits int) *Type {
	switch bits {
	case 1:
		return I1
	case 8:
		return I8
	case 16:
		return I16
	case 32:
		return I32
	case 64:
		return I64
	}
	return &Type{Kind: IntegerTypeKind, IntBits: bits}
}

// FunctionType returns a function type
func FunctionType(ret *Type, params ...*Type) *Type {
	return &Type{Kind: FunctionTypeKind, Ret: ret, Params: params}
}

// ArrayType returns an array type
func ArrayType(elem *Type, n int64) *Type {
	return &Type{Kind: ArrayTypeKind, Elem: elem, Len: n}
}

// Bits returns the size of the type in bits
func (t *Type) Bits() int {
	if t.Kind == IntegerTypeKind {
		return t.IntBits
	}
	return t.Bytes() * 8
}

// Bytes returns the size of the type in bytes, ceil(bits/8)
func (t *Type) Bytes() int {
	switch t.Kind {
	case VoidTypeKind:
		return 0
	case PtrTypeKind, FunctionTypeKind:
		return 8
	case IntegerTypeKind:
		return (t.IntBits + 7) / 8
	case ArrayTypeKind:
		return t.Elem.Bytes() * int(t.Len)
	}
	return 0
}

// IsVoid reports whether t is the void type
func (t *Type) IsVoid() bool { return t == nil || t.Kind == VoidTypeKind }

// IsPtr reports whether t is the pointer type
func (t *Type) IsPtr() bool { return t.Kind == PtrTypeKind }

// IsInteger reports whether t is an integer type
func (t *Type) IsInteger() bool { return t.Kind == IntegerTypeKind }

// Equal reports structural type equality
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case VoidTypeKind, PtrTypeKind:
		return true
	case IntegerTypeKind:
		return t.IntBits == o.IntBits
	case ArrayTypeKind:
		return t.Len == o.Len && t.Elem.Equal(o.Elem)
	case FunctionTypeKind:
		if !t.Ret.Equal(o.Ret) || len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (t *Type) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case VoidTypeKind:
		return "void"
	case PtrTypeKind:
		return "ptr"
	case IntegerTypeKind:
		return fmt.Sprintf("i%d", t.IntBits)
	case ArrayTypeKind:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case FunctionTypeKind:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = p.String()
		}
		return fmt.Sprintf("%s (%s)", t.Ret, strings.Join(params, ", "))
	}
	return "?"
}
