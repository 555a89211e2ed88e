// Package acir implements the outer arithmetic circuit layer: circuits,
// their opcodes, witness maps and the opcode-at-a-time solver state
// machine the debug execution engine drives.
//
// The solver is structurally grounded on the teacher's lang/machine run
// loop (github.com/mna/nenuphar/lang/machine's run function): a step
// counter, one opcode fetched and dispatched per iteration, and a single
// exit point for failure. Unlike that loop, which runs a function to
// completion, Solve here is restructured into a Step method so a caller —
// internal/engine — can suspend after exactly one opcode and inspect or
// mutate witness state in between.
package acir

import (
	"fmt"

	"github.com/mna/acirdbg/internal/field"
)

// Witness identifies a single wire in a circuit's witness vector.
type Witness uint32

// WitnessMap holds the partial or complete assignment of field values to
// witnesses for one circuit invocation.
type WitnessMap map[Witness]field.Element

// Clone returns an independent copy of m.
func (m WitnessMap) Clone() WitnessMap {
	cp := make(WitnessMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// WitnessStackFrame pairs a circuit id with the witness map produced by
// solving it, in the order circuits were entered.
type WitnessStackFrame struct {
	CircuitID uint32
	Witness   WitnessMap
}

// WitnessStack is the ordered result of a full debug session: one frame
// per circuit invocation, outermost first.
type WitnessStack []WitnessStackFrame

// MulTerm is one quadratic term coeff*w_l*w_r of an AssertZero gate.
type MulTerm struct {
	Coeff      field.Element
	Left, Right Witness
}

// LinearTerm is one linear term coeff*w of an AssertZero gate.
type LinearTerm struct {
	Coeff field.Element
	W     Witness
}

// AssertZero represents a single arithmetic gate: the sum of its quadratic
// terms, linear terms and constant must equal zero once all referenced
// witnesses are known.
type AssertZero struct {
	Mul      []MulTerm
	Linear   []LinearTerm
	Constant field.Element

	// Unknown, when the gate computes rather than only checks, is the
	// witness this gate's lone degree-1 unknown solves for; nil when the
	// gate only verifies an already-fully-assigned relation. The compiler
	// front-end is responsible for identifying this; it is supplied as
	// part of the artifact.
	Unknown *Witness

	// AssertMessage, if set, is shown in AssertionFailed when this gate's
	// relation does not hold.
	AssertMessage string
}

// BrilligCall invokes an unconstrained Brillig function, passing input
// witnesses and receiving output witnesses once the Brillig VM completes.
type BrilligCall struct {
	FunctionID uint32
	Inputs     []Witness
	Outputs    []Witness
}

// Call invokes another ACIR circuit (an "acir call"), passing input
// witnesses and receiving output witnesses once the callee circuit has
// been fully solved.
type Call struct {
	CircuitID uint32
	Inputs    []Witness
	Outputs   []Witness
}

// OpcodeKind tags the variant of an Opcode.
type OpcodeKind int

const (
	OpAssertZero OpcodeKind = iota
	OpBrilligCall
	OpCall
)

// Opcode is one instruction of a circuit's opcode list.
type Opcode struct {
	Kind OpcodeKind

	AssertZero  *AssertZero
	BrilligCall *BrilligCall
	Call        *Call
}

// Circuit is a single ACIR circuit: its opcode list plus its declared
// public/private input witness counts, needed only to size the initial
// witness map.
type Circuit struct {
	ID             uint32
	Opcodes        []Opcode
	PublicInputs   []Witness
	PrivateInputs  []Witness
}

// OpcodeLocation addresses a single step of execution: either a bare ACIR
// opcode index, or an ACIR opcode currently suspended inside a Brillig
// call at a given Brillig program counter.
type OpcodeLocation struct {
	AcirIndex    uint32
	InBrillig    bool
	BrilligIndex uint32
}

// String renders loc as "<acir>" or "<acir>.<brillig>".
func (loc OpcodeLocation) String() string {
	if !loc.InBrillig {
		return fmt.Sprintf("%d", loc.AcirIndex)
	}
	return fmt.Sprintf("%d.%d", loc.AcirIndex, loc.BrilligIndex)
}

// DebugLocation pairs an OpcodeLocation with the circuit (and, if inside a
// Brillig call, the Brillig function) it belongs to.
type DebugLocation struct {
	CircuitID        uint32
	BrilligFunctionID *uint32
	Loc              OpcodeLocation
}

// String renders "<circuit>:<acir>" or
// "<circuit>:<acir>.<brillig>[:<brillig_function_id>]".
func (d DebugLocation) String() string {
	s := fmt.Sprintf("%d:%s", d.CircuitID, d.Loc)
	if d.Loc.InBrillig && d.BrilligFunctionID != nil {
		s += fmt.Sprintf(":%d", *d.BrilligFunctionID)
	}
	return s
}

// ParseDebugLocation parses the textual form produced by DebugLocation.String.
func ParseDebugLocation(s string) (DebugLocation, error) {
	var d DebugLocation
	var circuit, acirIdx uint32
	var brilligIdx, brilligFn uint32
	switch n, _ := fmt.Sscanf(s, "%d:%d.%d:%d", &circuit, &acirIdx, &brilligIdx, &brilligFn); n {
	case 4:
		d.CircuitID = circuit
		d.Loc = OpcodeLocation{AcirIndex: acirIdx, InBrillig: true, BrilligIndex: brilligIdx}
		d.BrilligFunctionID = &brilligFn
		return d, nil
	}
	switch n, _ := fmt.Sscanf(s, "%d:%d.%d", &circuit, &acirIdx, &brilligIdx); n {
	case 3:
		d.CircuitID = circuit
		d.Loc = OpcodeLocation{AcirIndex: acirIdx, InBrillig: true, BrilligIndex: brilligIdx}
		return d, nil
	}
	if n, _ := fmt.Sscanf(s, "%d:%d", &circuit, &acirIdx); n == 2 {
		d.CircuitID = circuit
		d.Loc = OpcodeLocation{AcirIndex: acirIdx}
		return d, nil
	}
	return DebugLocation{}, fmt.Errorf("acir: malformed debug location %q", s)
}
