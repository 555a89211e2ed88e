package maincmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/artifact"
	"github.com/mna/acirdbg/internal/brillig/asm"
	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/ptype"
	"github.com/mna/acirdbg/internal/vars"
	"github.com/mna/acirdbg/lang/token"
)

// LoadError is a fatal, CLI-surfaced failure per spec.md §7: workspace not
// found, compile failure, or prover-input read/encode failure.
type LoadError struct {
	Stage string // "workspace", "compile", "prover_input"
	Err   error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load error (%s): %s", e.Stage, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// wireProgram is the on-disk shape a compiled debug artifact is read from.
// spec.md §6 leaves the wire form compiler-defined; this repository reads
// a JSON document with this shape rather than inventing a binary format,
// matching how the teacher's own parser/scanner front-ends consume plain
// text source rather than a packed binary.
type wireProgram struct {
	Circuits       []wireCircuit    `json:"circuits"`
	BrilligProgs   []wireBrillig    `json:"brillig_functions"`
	InitialWitness map[string]string `json:"initial_witness"`
	OuterCircuitID uint32           `json:"outer_circuit_id"`
	Files          []wireFile       `json:"files"`
	Spans          []wireSpanEntry  `json:"opcode_spans"`
	Variables      []wireVariable   `json:"debug_variables"`
	Types          []wireType       `json:"debug_types"`
}

// wireVariable is one var_id -> (name, type_id) debug symbol, as emitted by
// the source instrumenter (internal/instrument.Symbols) alongside a
// type_id the front-end compiler assigns per declared binding.
type wireVariable struct {
	ID     uint32 `json:"id"`
	Name   string `json:"name"`
	TypeID uint32 `json:"type_id"`
}

// wireType is one type_id -> ptype.Type debug symbol.
type wireType struct {
	ID           uint32      `json:"id"`
	Kind         string      `json:"kind"`
	Width        uint32      `json:"width,omitempty"`
	ArrayLength  *uint64     `json:"array_length,omitempty"`
	ElemTypeID   *uint32     `json:"elem_type_id,omitempty"`
	TupleTypeIDs []uint32    `json:"tuple_type_ids,omitempty"`
	StrLength    uint64      `json:"str_length,omitempty"`
	StructName   string      `json:"struct_name,omitempty"`
	StructFields []wireNamed `json:"struct_fields,omitempty"`
	FuncName     string      `json:"func_name,omitempty"`
	FuncParams   []wireNamed `json:"func_params,omitempty"`
}

type wireNamed struct {
	Name   string `json:"name"`
	TypeID uint32 `json:"type_id"`
}

type wireFile struct {
	ID     uint32 `json:"id"`
	Path   string `json:"path"`
	Source string `json:"source"`
}

type wireSpanEntry struct {
	CircuitID uint32           `json:"circuit_id"`
	Location  wireOpcodeLoc    `json:"location"`
	Spans     []artifact.Span  `json:"spans"`
}

type wireOpcodeLoc struct {
	AcirIndex    uint32 `json:"acir_index"`
	InBrillig    bool   `json:"in_brillig"`
	BrilligIndex uint32 `json:"brillig_index"`
}

type wireCircuit struct {
	ID            uint32        `json:"id"`
	Opcodes       []wireOpcode  `json:"opcodes"`
	PublicInputs  []uint32      `json:"public_inputs"`
	PrivateInputs []uint32      `json:"private_inputs"`
}

type wireOpcode struct {
	Kind        string          `json:"kind"` // "assert_zero", "brillig_call", "call"
	AssertZero  *wireAssertZero `json:"assert_zero,omitempty"`
	BrilligCall *wireBrilligCall `json:"brillig_call,omitempty"`
	Call        *wireCall       `json:"call,omitempty"`
}

type wireAssertZero struct {
	Mul           []wireMulTerm `json:"mul"`
	Linear        []wireLinTerm `json:"linear"`
	Constant      string        `json:"constant"`
	Unknown       *uint32       `json:"unknown,omitempty"`
	AssertMessage string        `json:"assert_message,omitempty"`
}

type wireMulTerm struct {
	Coeff       string `json:"coeff"`
	Left, Right uint32 `json:"left_right"`
}

type wireLinTerm struct {
	Coeff string `json:"coeff"`
	W     uint32 `json:"w"`
}

type wireBrilligCall struct {
	FunctionID uint32   `json:"function_id"`
	Inputs     []uint32 `json:"inputs"`
	Outputs    []uint32 `json:"outputs"`
}

type wireCall struct {
	CircuitID uint32   `json:"circuit_id"`
	Inputs    []uint32 `json:"inputs"`
	Outputs   []uint32 `json:"outputs"`
}

type wireBrillig struct {
	FunctionID uint32      `json:"function_id"`
	Name       string      `json:"name"`
	Instr      []wireInstr `json:"instructions"`
}

type wireInstr struct {
	Op                 string   `json:"op"`
	Dst, Src1, Src2    uint32   `json:"dst_src1_src2"`
	Bin                string   `json:"bin,omitempty"`
	BitSize            uint32   `json:"bit_size"`
	Const              string   `json:"const,omitempty"`
	Target             uint32   `json:"target,omitempty"`
	ForeignCallName    string   `json:"foreign_call_name,omitempty"`
	ForeignCallInputs  []uint32 `json:"foreign_call_inputs,omitempty"`
	ForeignCallOutputs []uint32 `json:"foreign_call_outputs,omitempty"`
	TrapMessage        string   `json:"trap_message,omitempty"`
}

// LoadedArtifact bundles everything a debug session needs to start.
type LoadedArtifact struct {
	Circuits       map[uint32]*acir.Circuit
	BrilligProgs   map[uint32]*asm.Program
	InitialWitness acir.WitnessMap
	OuterCircuitID uint32
	Artifact       *artifact.Artifact
	Store          *vars.Store
}

// LoadArtifactFile reads and decodes path, translating any failure into a
// LoadError so the CLI can surface it uniformly (spec.md §7).
func LoadArtifactFile(path string) (*LoadedArtifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Stage: "workspace", Err: err}
	}
	var wp wireProgram
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, &LoadError{Stage: "compile", Err: fmt.Errorf("malformed artifact: %w", err)}
	}

	circuits := make(map[uint32]*acir.Circuit, len(wp.Circuits))
	for _, wc := range wp.Circuits {
		c := &acir.Circuit{ID: wc.ID}
		for _, w := range wc.PublicInputs {
			c.PublicInputs = append(c.PublicInputs, acir.Witness(w))
		}
		for _, w := range wc.PrivateInputs {
			c.PrivateInputs = append(c.PrivateInputs, acir.Witness(w))
		}
		for _, wo := range wc.Opcodes {
			op, err := decodeOpcode(wo)
			if err != nil {
				return nil, &LoadError{Stage: "compile", Err: err}
			}
			c.Opcodes = append(c.Opcodes, op)
		}
		circuits[wc.ID] = c
	}

	brilligProgs := make(map[uint32]*asm.Program, len(wp.BrilligProgs))
	for _, wb := range wp.BrilligProgs {
		prog := &asm.Program{Name: wb.Name}
		for _, wi := range wb.Instr {
			instr, err := decodeInstr(wi)
			if err != nil {
				return nil, &LoadError{Stage: "compile", Err: err}
			}
			prog.Instr = append(prog.Instr, instr)
		}
		brilligProgs[wb.FunctionID] = prog
	}

	initial := make(acir.WitnessMap, len(wp.InitialWitness))
	for k, v := range wp.InitialWitness {
		var idx uint32
		if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
			return nil, &LoadError{Stage: "prover_input", Err: fmt.Errorf("malformed witness index %q: %w", k, err)}
		}
		f, err := field.FromHex(v)
		if err != nil {
			return nil, &LoadError{Stage: "prover_input", Err: fmt.Errorf("malformed witness value %q: %w", v, err)}
		}
		initial[acir.Witness(idx)] = f
	}

	fset := token.NewFileSet()
	builder := artifact.NewBuilder(fset)
	for _, f := range wp.Files {
		builder.AddFile(f.ID, f.Path, f.Source)
	}
	for _, e := range wp.Spans {
		loc := acir.OpcodeLocation{AcirIndex: e.Location.AcirIndex, InBrillig: e.Location.InBrillig, BrilligIndex: e.Location.BrilligIndex}
		builder.AddOpcodeSpans(e.CircuitID, loc, e.Spans)
	}

	store := vars.New()
	types, err := decodeTypes(wp.Types)
	if err != nil {
		return nil, &LoadError{Stage: "compile", Err: err}
	}
	store.InsertTypes(types)
	variables := make(map[uint32]struct {
		Name   string
		TypeID uint32
	}, len(wp.Variables))
	for _, wv := range wp.Variables {
		variables[wv.ID] = struct {
			Name   string
			TypeID uint32
		}{Name: wv.Name, TypeID: wv.TypeID}
	}
	store.InsertVariables(variables)

	return &LoadedArtifact{
		Circuits:       circuits,
		BrilligProgs:   brilligProgs,
		InitialWitness: initial,
		OuterCircuitID: wp.OuterCircuitID,
		Artifact:       builder.Build(),
		Store:          store,
	}, nil
}

var typeKindNames = map[string]ptype.Kind{
	"field": ptype.KindField, "signed_integer": ptype.KindSignedInteger,
	"unsigned_integer": ptype.KindUnsignedInteger, "boolean": ptype.KindBoolean,
	"array": ptype.KindArray, "tuple": ptype.KindTuple, "string": ptype.KindString,
	"struct": ptype.KindStruct, "function": ptype.KindFunction,
	"mutable_reference": ptype.KindMutableReference, "opaque": ptype.KindOpaque,
}

// decodeTypes resolves the wire type table's internal type_id references
// (Elem/Tuple/struct-field/param types) in a single pass, since every
// reference is required to point at an entry elsewhere in the same table
// rather than forming a cycle (a printable type's field count must
// terminate, per ptype.Type.FieldCount).
func decodeTypes(wts []wireType) (map[uint32]*ptype.Type, error) {
	byID := make(map[uint32]wireType, len(wts))
	for _, wt := range wts {
		byID[wt.ID] = wt
	}
	resolved := make(map[uint32]*ptype.Type, len(wts))
	resolving := make(map[uint32]bool, len(wts))

	var resolve func(id uint32) (*ptype.Type, error)
	resolve = func(id uint32) (*ptype.Type, error) {
		if t, ok := resolved[id]; ok {
			return t, nil
		}
		if resolving[id] {
			return nil, fmt.Errorf("debug type %d: cyclic type reference", id)
		}
		wt, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("debug type %d: not found in type table", id)
		}
		resolving[id] = true
		defer delete(resolving, id)

		kind, ok := typeKindNames[wt.Kind]
		if !ok {
			return nil, fmt.Errorf("debug type %d: unknown kind %q", id, wt.Kind)
		}
		t := &ptype.Type{Kind: kind, Width: wt.Width, ArrayLength: wt.ArrayLength, StrLength: wt.StrLength,
			StructName: wt.StructName, FuncName: wt.FuncName}
		if wt.ElemTypeID != nil {
			elem, err := resolve(*wt.ElemTypeID)
			if err != nil {
				return nil, err
			}
			t.Elem = elem
		}
		for _, tid := range wt.TupleTypeIDs {
			e, err := resolve(tid)
			if err != nil {
				return nil, err
			}
			t.Tuple = append(t.Tuple, e)
		}
		for _, nf := range wt.StructFields {
			ft, err := resolve(nf.TypeID)
			if err != nil {
				return nil, err
			}
			t.StructFields = append(t.StructFields, ptype.NamedType{Name: nf.Name, Type: ft})
		}
		for _, np := range wt.FuncParams {
			pt, err := resolve(np.TypeID)
			if err != nil {
				return nil, err
			}
			t.FuncParams = append(t.FuncParams, ptype.NamedType{Name: np.Name, Type: pt})
		}

		resolved[id] = t
		return t, nil
	}

	for id := range byID {
		if _, err := resolve(id); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func decodeOpcode(wo wireOpcode) (acir.Opcode, error) {
	switch wo.Kind {
	case "assert_zero":
		if wo.AssertZero == nil {
			return acir.Opcode{}, fmt.Errorf("assert_zero opcode missing payload")
		}
		az := &acir.AssertZero{AssertMessage: wo.AssertZero.AssertMessage}
		c, err := field.FromHex(wo.AssertZero.Constant)
		if err != nil {
			return acir.Opcode{}, err
		}
		az.Constant = c
		for _, m := range wo.AssertZero.Mul {
			coeff, err := field.FromHex(m.Coeff)
			if err != nil {
				return acir.Opcode{}, err
			}
			az.Mul = append(az.Mul, acir.MulTerm{Coeff: coeff, Left: acir.Witness(m.Left), Right: acir.Witness(m.Right)})
		}
		for _, l := range wo.AssertZero.Linear {
			coeff, err := field.FromHex(l.Coeff)
			if err != nil {
				return acir.Opcode{}, err
			}
			az.Linear = append(az.Linear, acir.LinearTerm{Coeff: coeff, W: acir.Witness(l.W)})
		}
		if wo.AssertZero.Unknown != nil {
			w := acir.Witness(*wo.AssertZero.Unknown)
			az.Unknown = &w
		}
		return acir.Opcode{Kind: acir.OpAssertZero, AssertZero: az}, nil

	case "brillig_call":
		if wo.BrilligCall == nil {
			return acir.Opcode{}, fmt.Errorf("brillig_call opcode missing payload")
		}
		bc := &acir.BrilligCall{FunctionID: wo.BrilligCall.FunctionID}
		for _, w := range wo.BrilligCall.Inputs {
			bc.Inputs = append(bc.Inputs, acir.Witness(w))
		}
		for _, w := range wo.BrilligCall.Outputs {
			bc.Outputs = append(bc.Outputs, acir.Witness(w))
		}
		return acir.Opcode{Kind: acir.OpBrilligCall, BrilligCall: bc}, nil

	case "call":
		if wo.Call == nil {
			return acir.Opcode{}, fmt.Errorf("call opcode missing payload")
		}
		cc := &acir.Call{CircuitID: wo.Call.CircuitID}
		for _, w := range wo.Call.Inputs {
			cc.Inputs = append(cc.Inputs, acir.Witness(w))
		}
		for _, w := range wo.Call.Outputs {
			cc.Outputs = append(cc.Outputs, acir.Witness(w))
		}
		return acir.Opcode{Kind: acir.OpCall, Call: cc}, nil

	default:
		return acir.Opcode{}, fmt.Errorf("unknown opcode kind %q", wo.Kind)
	}
}

var binOpNames = map[string]asm.BinOp{
	"add": asm.BinAdd, "sub": asm.BinSub, "mul": asm.BinMul, "div": asm.BinDiv,
	"eq": asm.BinEq, "lt": asm.BinLt, "lte": asm.BinLte, "and": asm.BinAnd,
	"or": asm.BinOr, "xor": asm.BinXor, "shl": asm.BinShl, "shr": asm.BinShr,
}

var opcodeNames = map[string]asm.Opcode{
	"nop": asm.OpNop, "const": asm.OpConst, "mov": asm.OpMov, "binary": asm.OpBinary,
	"not": asm.OpNot, "cast": asm.OpCast, "jump": asm.OpJump, "jump_if": asm.OpJumpIf,
	"jump_if_not": asm.OpJumpIfNot, "call": asm.OpCall, "return": asm.OpReturn,
	"load": asm.OpLoad, "store": asm.OpStore, "foreign_call": asm.OpForeignCall,
	"trap": asm.OpTrap, "stop": asm.OpStop,
}

func decodeInstr(wi wireInstr) (asm.Instr, error) {
	op, ok := opcodeNames[wi.Op]
	if !ok {
		return asm.Instr{}, fmt.Errorf("unknown brillig opcode %q", wi.Op)
	}
	instr := asm.Instr{
		Op: op, Dst: asm.Addr(wi.Dst), Src1: asm.Addr(wi.Src1), Src2: asm.Addr(wi.Src2),
		BitSize: asm.BitSize(wi.BitSize), Const: wi.Const, Target: wi.Target,
		ForeignCallName: wi.ForeignCallName, TrapMessage: wi.TrapMessage,
	}
	if wi.Bin != "" {
		b, ok := binOpNames[wi.Bin]
		if !ok {
			return asm.Instr{}, fmt.Errorf("unknown binary op %q", wi.Bin)
		}
		instr.Bin = b
	}
	for _, a := range wi.ForeignCallInputs {
		instr.ForeignCallInputs = append(instr.ForeignCallInputs, asm.Addr(a))
	}
	for _, a := range wi.ForeignCallOutputs {
		instr.ForeignCallOutputs = append(instr.ForeignCallOutputs, asm.Addr(a))
	}
	return instr, nil
}
