// Package ptype implements the printable type model (spec component A): a
// canonical shape/value representation used to decode field streams coming
// back from debug foreign calls and to render them for a front-end. It is
// grounded on noirc_printable_type's PrintableType/PrintableValue and has no
// machine-specific knowledge of ACIR or Brillig.
package ptype

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/mna/acirdbg/internal/field"
)

// Kind tags the variant of a Type.
type Kind int

const (
	KindField Kind = iota
	KindSignedInteger
	KindUnsignedInteger
	KindBoolean
	KindArray
	KindTuple
	KindString
	KindStruct
	KindFunction
	KindMutableReference
	KindOpaque // types without a printable form
)

// NamedType pairs a name with a type, used for struct fields and function
// parameters.
type NamedType struct {
	Name string
	Type *Type
}

// Type is the tagged printable-type variant described in spec.md §3.
type Type struct {
	Kind Kind

	Width uint32 // SignedInteger, UnsignedInteger

	ArrayLength *uint64 // Array, nil means length-prefixed
	Elem        *Type   // Array, MutableReference

	Tuple []*Type // Tuple

	StrLength uint64 // String

	StructName   string      // Struct
	StructFields []NamedType // Struct

	FuncName   string      // Function
	FuncParams []NamedType // Function
}

func Field() *Type                       { return &Type{Kind: KindField} }
func Boolean() *Type                     { return &Type{Kind: KindBoolean} }
func SignedInteger(width uint32) *Type   { return &Type{Kind: KindSignedInteger, Width: width} }
func UnsignedInteger(width uint32) *Type { return &Type{Kind: KindUnsignedInteger, Width: width} }
func Opaque() *Type                      { return &Type{Kind: KindOpaque} }

func Array(length *uint64, elem *Type) *Type {
	return &Type{Kind: KindArray, ArrayLength: length, Elem: elem}
}

func Tuple(elems ...*Type) *Type { return &Type{Kind: KindTuple, Tuple: elems} }

func String(length uint64) *Type { return &Type{Kind: KindString, StrLength: length} }

func Struct(name string, fields ...NamedType) *Type {
	return &Type{Kind: KindStruct, StructName: name, StructFields: fields}
}

func Function(name string, params ...NamedType) *Type {
	return &Type{Kind: KindFunction, FuncName: name, FuncParams: params}
}

func MutableReference(referent *Type) *Type {
	return &Type{Kind: KindMutableReference, Elem: referent}
}

// FieldCount returns the fixed number of field elements required to
// serialise a value of this type, or false if the type is unsized (an
// Array with no declared length, or a tuple or struct containing one).
// A kind not listed below counts as 0 fields and reports true.
func (t *Type) FieldCount() (uint64, bool) {
	switch t.Kind {
	case KindField, KindSignedInteger, KindUnsignedInteger, KindBoolean:
		return 1, true
	case KindArray:
		if t.ArrayLength == nil {
			return 0, false
		}
		elemCount, ok := t.Elem.FieldCount()
		if !ok {
			return 0, false
		}
		return elemCount * *t.ArrayLength, true
	case KindTuple:
		var total uint64
		for _, elem := range t.Tuple {
			c, ok := elem.FieldCount()
			if !ok {
				return 0, false
			}
			total += c
		}
		return total, true
	case KindStruct:
		var total uint64
		for _, f := range t.StructFields {
			c, ok := f.Type.FieldCount()
			if !ok {
				return 0, false
			}
			total += c
		}
		return total, true
	case KindString:
		return t.StrLength, true
	default:
		return 0, true
	}
}

// Value is the tagged printable-value variant described in spec.md §3.
type Value struct {
	Kind Kind // KindField, KindString, KindArray/KindTuple (Vec), KindStruct, KindOpaque

	F   field.Element
	Str string
	Vec []*Value

	// StructOrder preserves field insertion order; StructVals is keyed by
	// field name.
	StructOrder []string
	StructVals  map[string]*Value
}

func FieldValue(f field.Element) *Value { return &Value{Kind: KindField, F: f} }
func StringValue(s string) *Value       { return &Value{Kind: KindString, Str: s} }
func VecValue(items []*Value) *Value    { return &Value{Kind: KindArray, Vec: items} }
func OpaqueValue() *Value               { return &Value{Kind: KindOpaque} }

func StructValue(order []string, vals map[string]*Value) *Value {
	return &Value{Kind: KindStruct, StructOrder: order, StructVals: vals}
}

// Stream is a cursor over a flat sequence of field elements, consumed in
// the order the compiler lays out a value's fields.
type Stream struct {
	elems []field.Element
	pos   int
}

func NewStream(elems []field.Element) *Stream { return &Stream{elems: elems} }

func (s *Stream) next() (field.Element, error) {
	if s.pos >= len(s.elems) {
		return field.Element{}, fmt.Errorf("ptype: field stream exhausted")
	}
	e := s.elems[s.pos]
	s.pos++
	return e, nil
}

// Remaining reports how many field elements are left unconsumed.
func (s *Stream) Remaining() int { return len(s.elems) - s.pos }

// DecodeValue consumes elements from stream according to typ and returns the
// decoded value. For Array{Length: nil}, the length is read first as a
// single field element narrowed to u64.
func DecodeValue(stream *Stream, typ *Type) (*Value, error) {
	switch typ.Kind {
	case KindField, KindSignedInteger, KindUnsignedInteger, KindBoolean:
		f, err := stream.next()
		if err != nil {
			return nil, err
		}
		return FieldValue(f), nil

	case KindArray:
		length := typ.ArrayLength
		if length == nil {
			f, err := stream.next()
			if err != nil {
				return nil, err
			}
			n := f.ToUint64()
			length = &n
		}
		items := make([]*Value, 0, *length)
		for i := uint64(0); i < *length; i++ {
			v, err := DecodeValue(stream, typ.Elem)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return VecValue(items), nil

	case KindTuple:
		items := make([]*Value, 0, len(typ.Tuple))
		for _, elemTyp := range typ.Tuple {
			v, err := DecodeValue(stream, elemTyp)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return VecValue(items), nil

	case KindString:
		var b strings.Builder
		for i := uint64(0); i < typ.StrLength; i++ {
			f, err := stream.next()
			if err != nil {
				return nil, err
			}
			raw := f.Bytes()
			for _, c := range raw[:len(raw)-1] {
				if c != 0 {
					return nil, fmt.Errorf("ptype: string byte has non-zero high bits")
				}
			}
			b.WriteByte(raw[len(raw)-1])
		}
		return StringValue(b.String()), nil

	case KindStruct:
		order := make([]string, 0, len(typ.StructFields))
		vals := make(map[string]*Value, len(typ.StructFields))
		for _, f := range typ.StructFields {
			v, err := DecodeValue(stream, f.Type)
			if err != nil {
				return nil, err
			}
			order = append(order, f.Name)
			vals[f.Name] = v
		}
		return StructValue(order, vals), nil

	default:
		return OpaqueValue(), nil
	}
}

// Format renders (value, typ) for display. It never panics; unknown
// combinations render as "<<opaque>>".
func Format(value *Value, typ *Type) string {
	if value == nil || typ == nil {
		return "<<opaque>>"
	}
	switch {
	case value.Kind == KindField && typ.Kind == KindField:
		return value.F.String()

	case value.Kind == KindField && typ.Kind == KindUnsignedInteger:
		n := value.F.ToUint128()
		return n.String()

	case value.Kind == KindField && typ.Kind == KindSignedInteger:
		return formatSigned(value.F, typ.Width)

	case value.Kind == KindField && typ.Kind == KindBoolean:
		if value.F.IsOne() {
			return "true"
		}
		return "false"

	case typ.Kind == KindFunction:
		names := make([]string, len(typ.FuncParams))
		for i, p := range typ.FuncParams {
			names[i] = p.Name
		}
		return fmt.Sprintf("<<fn %s(%s)>>", typ.FuncName, strings.Join(names, ", "))

	case typ.Kind == KindMutableReference:
		return "<<mutable ref>>"

	case value.Kind == KindArray && typ.Kind == KindArray:
		parts := make([]string, len(value.Vec))
		for i, v := range value.Vec {
			parts[i] = Format(v, typ.Elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"

	case value.Kind == KindArray && typ.Kind == KindTuple:
		parts := make([]string, len(value.Vec))
		for i, v := range value.Vec {
			if i < len(typ.Tuple) {
				parts[i] = Format(v, typ.Tuple[i])
			} else {
				parts[i] = "<<opaque>>"
			}
		}
		return "(" + strings.Join(parts, ", ") + ")"

	case value.Kind == KindString && typ.Kind == KindString:
		return value.Str

	case value.Kind == KindStruct && typ.Kind == KindStruct:
		fieldsByName := make(map[string]*Type, len(typ.StructFields))
		for _, f := range typ.StructFields {
			fieldsByName[f.Name] = f.Type
		}
		parts := make([]string, 0, len(value.StructOrder))
		for _, name := range value.StructOrder {
			parts = append(parts, fmt.Sprintf("%s: %s", name, Format(value.StructVals[name], fieldsByName[name])))
		}
		return fmt.Sprintf("%s { %s }", typ.StructName, strings.Join(parts, ", "))

	default:
		return "<<opaque>>"
	}
}

func formatSigned(f field.Element, width uint32) string {
	u := f.ToUint128()
	signBit := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	if u.Cmp(signBit) >= 0 {
		mask := new(big.Int).Lsh(big.NewInt(1), uint(width))
		mask.Sub(mask, big.NewInt(1))
		negated := new(big.Int).Xor(u, mask)
		negated.Add(negated, big.NewInt(1))
		return "-" + negated.String()
	}
	return u.String()
}

// FormatTemplate substitutes "{name}" placeholders in template, in order of
// appearance, with the formatted rendering of the corresponding (value,
// type) pair. It fails if a placeholder has no matching value, or if values
// are left over once every placeholder has been consumed (spec.md §4.A).
func FormatTemplate(template string, values []struct {
	Value *Value
	Type  *Type
}) (string, error) {
	var out strings.Builder
	idx := 0
	i := 0
	for i < len(template) {
		c := template[i]
		if c == '{' {
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("ptype: unterminated placeholder in format string %q", template)
			}
			if idx >= len(values) {
				return "", fmt.Errorf("ptype: format string %q ran out of values at placeholder %d", template, idx)
			}
			out.WriteString(Format(values[idx].Value, values[idx].Type))
			idx++
			i += end + 1
			continue
		}
		out.WriteByte(c)
		i++
	}
	if idx != len(values) {
		return "", fmt.Errorf("ptype: format string %q left %d unused value(s)", template, len(values)-idx)
	}
	return out.String(), nil
}
