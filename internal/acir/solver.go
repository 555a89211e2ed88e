package acir

import (
	"errors"
	"fmt"

	"github.com/mna/acirdbg/internal/field"
)

// SolveStatus is the result of one call to Solver.Step.
type SolveStatus int

const (
	// InProgress means the circuit has remaining opcodes and no pending
	// external work; call Step again.
	InProgress SolveStatus = iota
	// Solved means every opcode in the circuit has been processed.
	Solved
	// Failure means an opcode's relation could not be satisfied; see
	// Solver.Err for details.
	Failure
	// RequiresForeignCall means the solver is paused on a Call opcode that
	// references another circuit not yet solved; the caller must solve
	// that circuit and supply its output witnesses via ResolveCall.
	RequiresForeignCall
	// RequiresBrilligCall means the solver is paused on a BrilligCall
	// opcode; the caller must run internal/brillig/vm on the referenced
	// function and supply its output values via ResolveBrilligCall.
	RequiresBrilligCall
)

func (s SolveStatus) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Solved:
		return "solved"
	case Failure:
		return "failure"
	case RequiresForeignCall:
		return "requires_foreign_call"
	case RequiresBrilligCall:
		return "requires_brillig_call"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FailureKind distinguishes why an AssertZero could not be satisfied.
type FailureKind int

const (
	// AssertionFailed means the gate carried an AssertMessage, identifying
	// it as a source-level assertion rather than an internal consistency
	// check.
	AssertionFailed FailureKind = iota
	// SolvingError means the gate had no unsatisfied-assertion message;
	// the circuit itself is unsatisfiable for this witness assignment.
	SolvingError
	// BrilligFunctionFailed means a Brillig call trapped; BrilligCallStack
	// carries the full Brillig call stack at the point of the trap.
	BrilligFunctionFailed
)

// SolveFailure is the error returned once Step reports Failure.
type SolveFailure struct {
	Kind             FailureKind
	Message          string
	Location         OpcodeLocation
	BrilligCallStack []OpcodeLocation
}

func (e *SolveFailure) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("acir: %s at %s: %s", kindLabel(e.Kind), e.Location, e.Message)
	}
	return fmt.Sprintf("acir: %s at %s", kindLabel(e.Kind), e.Location)
}

func kindLabel(k FailureKind) string {
	switch k {
	case AssertionFailed:
		return "assertion failed"
	case BrilligFunctionFailed:
		return "brillig function failed"
	default:
		return "solving error"
	}
}

// ErrNoPendingRequest is returned by the Resolve* methods when called out
// of sequence.
var (
	ErrNoPendingRequest = errors.New("acir: no pending foreign/brillig call to resolve")
)

// Solver steps a single circuit's opcode list one opcode at a time,
// pausing whenever external work (another circuit, or a Brillig function)
// is required.
type Solver struct {
	circuit *Circuit
	witness WitnessMap
	pc      int

	pendingBrillig *BrilligCall
	pendingCall    *Call

	failure *SolveFailure
}

// NewSolver returns a solver for circuit, seeded with initialWitness
// (cloned: the caller's map is never mutated).
func NewSolver(circuit *Circuit, initialWitness WitnessMap) *Solver {
	return &Solver{circuit: circuit, witness: initialWitness.Clone()}
}

// Witness returns the solver's current (possibly partial) witness map.
// The returned map must not be mutated by the caller except via
// OverwriteWitness.
func (s *Solver) Witness() WitnessMap { return s.witness }

// CircuitID returns the id of the circuit being solved.
func (s *Solver) CircuitID() uint32 { return s.circuit.ID }

// PC returns the index of the next opcode Step will process.
func (s *Solver) PC() int { return s.pc }

// Err returns the failure recorded by the last Step call that returned
// Failure, or nil otherwise.
func (s *Solver) Err() *SolveFailure { return s.failure }

// OverwriteWitness lets the debug engine force a witness value, e.g. in
// response to a REPL "memset"-style command. It is a debugging affordance
// with no counterpart in ordinary circuit solving.
func (s *Solver) OverwriteWitness(w Witness, v field.Element) {
	s.witness[w] = v
}

// Step processes exactly one opcode. Once every opcode has been processed
// it returns Solved, and keeps returning Solved on further calls. Calling
// Step after Failure or while a RequiresForeignCall/RequiresBrilligCall
// request is still pending (i.e. before the matching Resolve* call) is a
// programming error in the caller and panics.
func (s *Solver) Step() (SolveStatus, error) {
	if s.failure != nil {
		panic("acir: Step called after Failure")
	}
	if s.pendingBrillig != nil || s.pendingCall != nil {
		panic("acir: Step called with an unresolved foreign/brillig call pending")
	}
	if s.pc >= len(s.circuit.Opcodes) {
		return Solved, nil
	}

	op := s.circuit.Opcodes[s.pc]
	switch op.Kind {
	case OpAssertZero:
		return s.stepAssertZero(op.AssertZero)
	case OpBrilligCall:
		s.pendingBrillig = op.BrilligCall
		return RequiresBrilligCall, nil
	case OpCall:
		s.pendingCall = op.Call
		return RequiresForeignCall, nil
	default:
		return s.fail(SolvingError, fmt.Sprintf("unknown opcode kind %d", op.Kind), "")
	}
}

func (s *Solver) stepAssertZero(gate *AssertZero) (SolveStatus, error) {
	sum := gate.Constant
	var unknownCoeff field.Element
	haveUnknown := false

	for _, t := range gate.Linear {
		if gate.Unknown != nil && t.W == *gate.Unknown {
			unknownCoeff = t.Coeff
			haveUnknown = true
			continue
		}
		v, ok := s.witness[t.W]
		if !ok {
			return s.fail(SolvingError, fmt.Sprintf("witness %d referenced before assignment", t.W), gate.AssertMessage)
		}
		sum = sum.Add(t.Coeff.Mul(v))
	}
	for _, t := range gate.Mul {
		lv, lok := s.witness[t.Left]
		rv, rok := s.witness[t.Right]
		if !lok || !rok {
			return s.fail(SolvingError, "witness referenced before assignment in quadratic term", gate.AssertMessage)
		}
		sum = sum.Add(t.Coeff.Mul(lv).Mul(rv))
	}

	if gate.Unknown != nil && haveUnknown {
		if unknownCoeff.IsZero() {
			return s.fail(SolvingError, "unknown term has zero coefficient", gate.AssertMessage)
		}
		// sum + unknownCoeff*w == 0  =>  w == -sum / unknownCoeff
		w := field.Zero().Sub(sum).Mul(unknownCoeff.Inv())
		s.witness[*gate.Unknown] = w
		s.pc++
		return s.afterStep()
	}

	if !sum.IsZero() {
		kind := SolvingError
		if gate.AssertMessage != "" {
			kind = AssertionFailed
		}
		return s.fail(kind, "gate relation does not hold", gate.AssertMessage)
	}
	s.pc++
	return s.afterStep()
}

func (s *Solver) afterStep() (SolveStatus, error) {
	if s.pc >= len(s.circuit.Opcodes) {
		return Solved, nil
	}
	return InProgress, nil
}

func (s *Solver) fail(kind FailureKind, reason, message string) (SolveStatus, error) {
	f := &SolveFailure{
		Kind:     kind,
		Message:  message,
		Location: OpcodeLocation{AcirIndex: uint32(s.pc)},
	}
	if message == "" {
		f.Message = reason
	}
	s.failure = f
	return Failure, f
}

// PendingCall returns the Call opcode Step last paused on, if any.
func (s *Solver) PendingCall() (*Call, bool) { return s.pendingCall, s.pendingCall != nil }

// PendingBrillig returns the BrilligCall opcode Step last paused on, if any.
func (s *Solver) PendingBrillig() (*BrilligCall, bool) { return s.pendingBrillig, s.pendingBrillig != nil }

// ResolveCall supplies the output witnesses produced by solving the
// circuit referenced by a pending Call, advances past it, and clears the
// pending request.
func (s *Solver) ResolveCall(outputs []field.Element) error {
	if s.pendingCall == nil {
		return ErrNoPendingRequest
	}
	if len(outputs) != len(s.pendingCall.Outputs) {
		return fmt.Errorf("acir: call expected %d outputs, got %d", len(s.pendingCall.Outputs), len(outputs))
	}
	for i, w := range s.pendingCall.Outputs {
		s.witness[w] = outputs[i]
	}
	s.pendingCall = nil
	s.pc++
	return nil
}

// ResolveBrilligCall supplies the output values produced by running
// internal/brillig/vm on a pending BrilligCall, advances past it, and
// clears the pending request. A Brillig function that traps is not
// resolved through this method: its caller reports it with FailBrillig,
// which records a BrilligFunctionFailed failure.
func (s *Solver) ResolveBrilligCall(outputs []field.Element) error {
	if s.pendingBrillig == nil {
		return ErrNoPendingRequest
	}
	if len(outputs) != len(s.pendingBrillig.Outputs) {
		return fmt.Errorf("acir: brillig call expected %d outputs, got %d", len(s.pendingBrillig.Outputs), len(outputs))
	}
	for i, w := range s.pendingBrillig.Outputs {
		s.witness[w] = outputs[i]
	}
	s.pendingBrillig = nil
	s.pc++
	return nil
}

// FailBrillig records a trapped Brillig function as the solver's failure,
// carrying its call stack for display.
func (s *Solver) FailBrillig(message string, callStack []OpcodeLocation) (SolveStatus, error) {
	if s.pendingBrillig == nil {
		return InProgress, ErrNoPendingRequest
	}
	s.pendingBrillig = nil
	f := &SolveFailure{
		Kind:             BrilligFunctionFailed,
		Message:          message,
		Location:         OpcodeLocation{AcirIndex: uint32(s.pc)},
		BrilligCallStack: callStack,
	}
	s.failure = f
	return Failure, f
}
