package ptype_test

import (
	"testing"

	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/ptype"
	"github.com/stretchr/testify/require"
)

func TestFieldCount(t *testing.T) {
	length := uint64(3)
	arr := ptype.Array(&length, ptype.Field())
	n, ok := arr.FieldCount()
	require.True(t, ok)
	require.EqualValues(t, 3, n)

	unsized := ptype.Array(nil, ptype.Field())
	_, ok = unsized.FieldCount()
	require.False(t, ok)

	str := ptype.Struct("Point",
		ptype.NamedType{Name: "x", Type: ptype.Field()},
		ptype.NamedType{Name: "y", Type: ptype.Field()},
	)
	n, ok = str.FieldCount()
	require.True(t, ok)
	require.EqualValues(t, 2, n)
}

func TestDecodeValueStruct(t *testing.T) {
	typ := ptype.Struct("Point",
		ptype.NamedType{Name: "x", Type: ptype.Field()},
		ptype.NamedType{Name: "y", Type: ptype.Field()},
	)
	elems := []field.Element{field.FromUint64(1), field.FromUint64(2)}
	val, err := ptype.DecodeValue(ptype.NewStream(elems), typ)
	require.NoError(t, err)
	require.Equal(t, ptype.KindStruct, val.Kind)
	require.Equal(t, []string{"x", "y"}, val.StructOrder)
	require.Equal(t, "1", ptype.Format(val.StructVals["x"], typ.StructFields[0].Type))
	require.Equal(t, "2", ptype.Format(val.StructVals["y"], typ.StructFields[1].Type))

	require.Equal(t, "Point { x: 1, y: 2 }", ptype.Format(val, typ))
}

func TestDecodeValueUnsizedArray(t *testing.T) {
	elemTyp := ptype.UnsignedInteger(32)
	arrTyp := ptype.Array(nil, elemTyp)
	elems := []field.Element{field.FromUint64(2), field.FromUint64(10), field.FromUint64(20)}
	val, err := ptype.DecodeValue(ptype.NewStream(elems), arrTyp)
	require.NoError(t, err)
	require.Len(t, val.Vec, 2)
	require.Equal(t, "[10, 20]", ptype.Format(val, arrTyp))
}

func TestDecodeValueExhaustedStream(t *testing.T) {
	_, err := ptype.DecodeValue(ptype.NewStream(nil), ptype.Field())
	require.Error(t, err)
}

func TestFormatSignedInteger(t *testing.T) {
	typ := ptype.SignedInteger(8)
	pos := ptype.FieldValue(field.FromUint64(5))
	require.Equal(t, "5", ptype.Format(pos, typ))

	neg := ptype.FieldValue(field.FromUint64(251)) // 256-5, two's complement of -5 in 8 bits
	require.Equal(t, "-5", ptype.Format(neg, typ))
}

func TestFormatBoolean(t *testing.T) {
	typ := ptype.Boolean()
	require.Equal(t, "true", ptype.Format(ptype.FieldValue(field.One()), typ))
	require.Equal(t, "false", ptype.Format(ptype.FieldValue(field.Zero()), typ))
}

func TestFormatTemplate(t *testing.T) {
	vals := []struct {
		Value *ptype.Value
		Type  *ptype.Type
	}{
		{Value: ptype.FieldValue(field.FromUint64(1)), Type: ptype.Field()},
		{Value: ptype.StringValue("hi"), Type: ptype.String(2)},
	}
	out, err := ptype.FormatTemplate("x={0}, s={1}", vals)
	require.NoError(t, err)
	require.Equal(t, "x=1, s=hi", out)

	_, err = ptype.FormatTemplate("x={0}, y={1}, z={2}", vals)
	require.Error(t, err)

	_, err = ptype.FormatTemplate("just text", vals)
	require.Error(t, err)
}
