// Package vars implements the debug variable store (spec component B): a
// runtime structure tracking per-stack-frame variable values, types and
// scope lifetimes, driven by the oracle calls the instrumented program
// makes while executing. It is grounded on
// original_source/tooling/nargo/src/artifacts/debug_vars.rs, restructured
// with explicit per-frame scoping (the original keeps a single flat
// "active" set; this store keeps one variable table per call frame, so
// dropping a frame on return cannot leak into an enclosing frame).
package vars

import (
	"fmt"
	"sort"

	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/ptype"
)

// Frame is a single stack frame: a function's debug id and its live
// variable table. Variables are kept in a plain map and sorted by id on
// read (GetVariables): the DAP-facing variables/stacktrace responses
// must come back in the same order on every run of the same program, a
// property a hash-table iteration order does not provide.
type Frame struct {
	FnName string
	Params []string
	vars   map[uint32]*ptype.Value
}

// StackVar is a single reported (name, value, type) tuple for a live
// frame, returned by GetVariables.
type StackVar struct {
	Name  string
	Value *ptype.Value
	Type  *ptype.Type
}

// FrameReport is one frame's worth of live variables, as returned by
// GetVariables.
type FrameReport struct {
	FnName string
	Params []string
	Vars   []StackVar
}

// Store is the debug variable store.
type Store struct {
	idToName map[uint32]string
	idToType map[uint32]uint32
	types    map[uint32]*ptype.Type

	frames []*Frame
}

// New returns an empty store; InsertVariables/InsertTypes populate it from
// the compiled artifact.
func New() *Store {
	return &Store{
		idToName: make(map[uint32]string),
		idToType: make(map[uint32]uint32),
		types:    make(map[uint32]*ptype.Type),
	}
}

// InsertVariables bulk-registers var_id -> (name, type_id). Idempotent.
func (s *Store) InsertVariables(vars map[uint32]struct {
	Name   string
	TypeID uint32
}) {
	for id, v := range vars {
		s.idToName[id] = v.Name
		s.idToType[id] = v.TypeID
	}
}

// InsertTypes bulk-registers type_id -> type. Idempotent.
func (s *Store) InsertTypes(types map[uint32]*ptype.Type) {
	for id, t := range types {
		s.types[id] = t
	}
}

// TypeOf resolves var_id to its registered type, following the
// var_id -> type_id -> Type indirection InsertVariables/InsertTypes build.
// It is the store's own answer to the lookup internal/foreigncall needs
// before it can decode an assign/assign_field call's field stream.
func (s *Store) TypeOf(varID uint32) (*ptype.Type, bool) {
	typeID, ok := s.idToType[varID]
	if !ok {
		return nil, false
	}
	typ, ok := s.types[typeID]
	return typ, ok
}

// PushFn pushes a new frame for fnName. The first call enters "main".
func (s *Store) PushFn(fnName string, params []string) {
	s.frames = append(s.frames, &Frame{
		FnName: fnName,
		Params: params,
		vars:   make(map[uint32]*ptype.Value, 8),
	})
}

// PopFn pops the top frame, discarding its variable table.
func (s *Store) PopFn() {
	if len(s.frames) == 0 {
		return
	}
	s.frames = s.frames[:len(s.frames)-1]
}

func (s *Store) top() *Frame {
	if len(s.frames) == 0 {
		panic("vars: no active frame")
	}
	return s.frames[len(s.frames)-1]
}

// Assign decodes a value for var_id from stream and stores it on the top
// frame. Panics if var_id has no registered type: the running program's
// debug stream is inconsistent with its symbols, which is fatal to the
// session (spec.md §4.B policy).
func (s *Store) Assign(varID uint32, elems []field.Element) {
	typeID, ok := s.idToType[varID]
	if !ok {
		panic(fmt.Sprintf("vars: assign to var_id %d with no registered type", varID))
	}
	typ, ok := s.types[typeID]
	if !ok {
		panic(fmt.Sprintf("vars: assign to var_id %d with unregistered type_id %d", varID, typeID))
	}
	val, err := ptype.DecodeValue(ptype.NewStream(elems), typ)
	if err != nil {
		panic(fmt.Sprintf("vars: decoding assignment to var_id %d: %v", varID, err))
	}
	s.top().vars[varID] = val
}

// AssignField locates the sub-value addressed by a path of indexes on
// var_id's current value, decodes a replacement from elems using the
// sub-type found at that path, and rebuilds the value with that
// replacement spliced in. names runs parallel to indexes and supplies
// the field name for any step that turns out to land on a struct (every
// other step ignores its entry); it may be shorter than indexes, or
// nil, when the path is known not to cross a struct (the plain
// member_assign wire call carries no names at all).
//
// A step's interpretation — array index, tuple position or struct field
// — is read off the *current* type at that point of the path rather
// than trusted from the caller, per spec.md §9's resolution of the
// MemberAccess open question: indexes are authoritative for array and
// tuple steps, while a struct step resolves by field name and carries
// only a placeholder index on the wire. Out-of-range indices, unknown
// field names and shape mismatches panic: the running program disagrees
// with its own debug symbols.
func (s *Store) AssignField(varID uint32, indexes []uint32, names []string, elems []field.Element) {
	cur, ok := s.top().vars[varID]
	if !ok {
		panic(fmt.Sprintf("vars: assign_field on var_id %d with no current value", varID))
	}
	typeID := s.idToType[varID]
	curType, ok := s.types[typeID]
	if !ok {
		panic(fmt.Sprintf("vars: assign_field on var_id %d with unregistered type", varID))
	}

	newVal, err := splice(cur, curType, indexes, names, elems)
	if err != nil {
		panic(fmt.Sprintf("vars: assign_field on var_id %d: %v", varID, err))
	}
	s.top().vars[varID] = newVal
}

// splice returns a copy of cur with the value addressed by (indexes,
// names) replaced by a value decoded from elems under the sub-type
// found at that path. An empty path decodes directly against curType.
func splice(cur *ptype.Value, curType *ptype.Type, indexes []uint32, names []string, elems []field.Element) (*ptype.Value, error) {
	if len(indexes) == 0 {
		return ptype.DecodeValue(ptype.NewStream(elems), curType)
	}
	idx := indexes[0]
	restIdx := indexes[1:]
	var name string
	var restNames []string
	if len(names) > 0 {
		name = names[0]
		restNames = names[1:]
	}

	switch curType.Kind {
	case ptype.KindArray:
		if cur.Kind != ptype.KindArray {
			return nil, fmt.Errorf("array index step on non-array value %v", cur.Kind)
		}
		if int(idx) >= len(cur.Vec) {
			return nil, fmt.Errorf("array index %d out of range (len %d)", idx, len(cur.Vec))
		}
		newElem, err := splice(cur.Vec[idx], curType.Elem, restIdx, restNames, elems)
		if err != nil {
			return nil, err
		}
		items := append([]*ptype.Value(nil), cur.Vec...)
		items[idx] = newElem
		return ptype.VecValue(items), nil

	case ptype.KindTuple:
		if cur.Kind != ptype.KindArray {
			return nil, fmt.Errorf("tuple position step on non-tuple value %v", cur.Kind)
		}
		if int(idx) >= len(curType.Tuple) || int(idx) >= len(cur.Vec) {
			return nil, fmt.Errorf("tuple position %d out of range", idx)
		}
		newElem, err := splice(cur.Vec[idx], curType.Tuple[idx], restIdx, restNames, elems)
		if err != nil {
			return nil, err
		}
		items := append([]*ptype.Value(nil), cur.Vec...)
		items[idx] = newElem
		return ptype.VecValue(items), nil

	case ptype.KindStruct:
		if cur.Kind != ptype.KindStruct {
			return nil, fmt.Errorf("struct field step on non-struct value %v", cur.Kind)
		}
		if name == "" {
			return nil, fmt.Errorf("struct field step requires a field name, none supplied")
		}
		fieldType, ok := structFieldType(curType, name)
		if !ok {
			return nil, fmt.Errorf("struct field %q not declared on type %s", name, curType.StructName)
		}
		prev, ok := cur.StructVals[name]
		if !ok {
			return nil, fmt.Errorf("struct field %q not present in current value", name)
		}
		newField, err := splice(prev, fieldType, restIdx, restNames, elems)
		if err != nil {
			return nil, err
		}
		vals := make(map[string]*ptype.Value, len(cur.StructVals))
		for k, v := range cur.StructVals {
			vals[k] = v
		}
		vals[name] = newField
		return ptype.StructValue(cur.StructOrder, vals), nil

	default:
		return nil, fmt.Errorf("assign_field step into non-aggregate type %v", curType.Kind)
	}
}

func structFieldType(t *ptype.Type, name string) (*ptype.Type, bool) {
	for _, f := range t.StructFields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}

// AssignDeref is reserved; updating through a mutable reference across a
// function boundary is unspecified (spec.md §9 open question). It always
// fails with ErrUnsupported.
func (s *Store) AssignDeref(varID uint32, elems []field.Element) error {
	return ErrUnsupported
}

// ErrUnsupported is returned by AssignDeref.
var ErrUnsupported = fmt.Errorf("vars: assign_deref is not supported in this release")

// Drop removes var_id's binding from the top frame only.
func (s *Store) Drop(varID uint32) {
	delete(s.top().vars, varID)
}

// Get returns var_id's current value on the top frame, if any.
func (s *Store) Get(varID uint32) (*ptype.Value, bool) {
	val, ok := s.top().vars[varID]
	return val, ok
}

// GetVariables returns, per active frame (outermost first), the function
// name, its parameter names, and the (name, value, type) triples currently
// live, each frame's variables sorted by var_id so the variables/
// stacktrace DAP responses come back in the same order on every run of
// the same program.
func (s *Store) GetVariables() []FrameReport {
	reports := make([]FrameReport, 0, len(s.frames))
	for _, fr := range s.frames {
		report := FrameReport{FnName: fr.FnName, Params: fr.Params}
		ids := make([]uint32, 0, len(fr.vars))
		for varID := range fr.vars {
			ids = append(ids, varID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, varID := range ids {
			name := s.idToName[varID]
			typ := s.types[s.idToType[varID]]
			report.Vars = append(report.Vars, StackVar{Name: name, Value: fr.vars[varID], Type: typ})
		}
		reports = append(reports, report)
	}
	return reports
}
