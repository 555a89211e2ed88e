package vars_test

import (
	"testing"

	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/ptype"
	"github.com/mna/acirdbg/internal/vars"
	"github.com/stretchr/testify/require"
)

func newStoreWithXY(t *testing.T) *vars.Store {
	t.Helper()
	s := vars.New()
	s.InsertVariables(map[uint32]struct {
		Name   string
		TypeID uint32
	}{
		0: {Name: "x", TypeID: 0},
		1: {Name: "y", TypeID: 0},
	})
	s.InsertTypes(map[uint32]*ptype.Type{0: ptype.Field()})
	return s
}

func TestAssignAndGet(t *testing.T) {
	s := newStoreWithXY(t)
	s.PushFn("main", nil)

	s.Assign(0, []field.Element{field.FromUint64(7)})
	val, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, "7", ptype.Format(val, ptype.Field()))

	_, ok = s.Get(1)
	require.False(t, ok)
}

func TestAssignUnknownVarPanics(t *testing.T) {
	s := newStoreWithXY(t)
	s.PushFn("main", nil)
	require.Panics(t, func() {
		s.Assign(99, []field.Element{field.FromUint64(1)})
	})
}

func TestDropRemovesOnlyFromTopFrame(t *testing.T) {
	s := newStoreWithXY(t)
	s.PushFn("main", nil)
	s.Assign(0, []field.Element{field.FromUint64(1)})

	s.PushFn("f", []string{"x"})
	s.Assign(0, []field.Element{field.FromUint64(2)})
	s.Drop(0)
	_, ok := s.Get(0)
	require.False(t, ok)

	s.PopFn()
	val, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, "1", ptype.Format(val, ptype.Field()))
}

func TestTypeOf(t *testing.T) {
	s := newStoreWithXY(t)
	typ, ok := s.TypeOf(0)
	require.True(t, ok)
	require.Equal(t, ptype.KindField, typ.Kind)

	_, ok = s.TypeOf(42)
	require.False(t, ok)
}

func TestAssignFieldOnArray(t *testing.T) {
	s := vars.New()
	arrType := ptype.Array(uint64Ptr(2), ptype.Field())
	s.InsertVariables(map[uint32]struct {
		Name   string
		TypeID uint32
	}{0: {Name: "arr", TypeID: 0}})
	s.InsertTypes(map[uint32]*ptype.Type{0: arrType})
	s.PushFn("main", nil)

	s.Assign(0, []field.Element{field.FromUint64(1), field.FromUint64(2)})
	s.AssignField(0, []uint32{1}, nil, []field.Element{field.FromUint64(99)})

	val, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, "[1, 99]", ptype.Format(val, arrType))
}

func TestAssignFieldOnStructInfersKindFromType(t *testing.T) {
	s := vars.New()
	structType := ptype.Struct("Point",
		ptype.NamedType{Name: "x", Type: ptype.Field()},
		ptype.NamedType{Name: "y", Type: ptype.Field()},
	)
	s.InsertVariables(map[uint32]struct {
		Name   string
		TypeID uint32
	}{0: {Name: "p", TypeID: 0}})
	s.InsertTypes(map[uint32]*ptype.Type{0: structType})
	s.PushFn("main", nil)

	s.Assign(0, []field.Element{field.FromUint64(1), field.FromUint64(2)})

	// A struct-field step carries a placeholder index (the instrumenter
	// cannot know a field's ordinal without a type checker); the store
	// resolves it by name instead, inferred from the value's own type
	// rather than a wire-supplied path kind.
	s.AssignField(0, []uint32{0}, []string{"y"}, []field.Element{field.FromUint64(42)})

	val, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, "Point { x: 1, y: 42 }", ptype.Format(val, structType))
}

func TestAssignFieldOnStructUnknownFieldErrors(t *testing.T) {
	s := vars.New()
	structType := ptype.Struct("Point", ptype.NamedType{Name: "x", Type: ptype.Field()})
	s.InsertVariables(map[uint32]struct {
		Name   string
		TypeID uint32
	}{0: {Name: "p", TypeID: 0}})
	s.InsertTypes(map[uint32]*ptype.Type{0: structType})
	s.PushFn("main", nil)
	s.Assign(0, []field.Element{field.FromUint64(1)})

	require.Panics(t, func() {
		s.AssignField(0, []uint32{0}, []string{"z"}, []field.Element{field.FromUint64(9)})
	})
}

func TestAssignDerefUnsupported(t *testing.T) {
	s := newStoreWithXY(t)
	s.PushFn("main", nil)
	err := s.AssignDeref(0, nil)
	require.ErrorIs(t, err, vars.ErrUnsupported)
}

func TestGetVariablesReportsPerFrame(t *testing.T) {
	s := newStoreWithXY(t)
	s.PushFn("main", nil)
	s.Assign(0, []field.Element{field.FromUint64(3)})

	s.PushFn("f", []string{"y"})
	s.Assign(1, []field.Element{field.FromUint64(4)})

	reports := s.GetVariables()
	require.Len(t, reports, 2)
	require.Equal(t, "main", reports[0].FnName)
	require.Len(t, reports[0].Vars, 1)
	require.Equal(t, "x", reports[0].Vars[0].Name)

	require.Equal(t, "f", reports[1].FnName)
	require.Len(t, reports[1].Vars, 1)
	require.Equal(t, "y", reports[1].Vars[0].Name)
}

func uint64Ptr(n uint64) *uint64 { return &n }
