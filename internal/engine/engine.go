// Package engine implements the debug execution engine (spec component E):
// it owns an internal/acir.Solver, an optional internal/brillig/vm.VM, the
// breakpoint set, call stack and foreign-call executor, and exposes the
// stepping granularities (step_acir_opcode, step_into_opcode, next_into,
// next_over, next_out, cont) a front-end drives it with.
//
// It is the debug analogue of the teacher's lang/machine run loop: where
// that loop drives a Thread to completion opcode by opcode inside a single
// function, Engine drives a two-tier ACIR/Brillig pipeline one opcode at a
// time, suspending at every opportunity a front-end might want to inspect
// state. Oracle-style foreign calls (var_assign, print, and the rest of
// internal/foreigncall's set) resolve synchronously within the single step
// that raised them; an ACIR Call or a Brillig entry instead opens a call
// stack frame and hands control to the callee's own opcodes one at a time,
// so next_over/next_out can observe a real depth transition instead of the
// callee vanishing inside a single step.
package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/brillig/asm"
	"github.com/mna/acirdbg/internal/brillig/vm"
	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/foreigncall"
	"github.com/mna/acirdbg/internal/vars"
)

// Status is the engine's high-level state (spec.md §4.E's state diagram).
type Status int

const (
	Initialised Status = iota
	Running
	AtBreakpoint
	Halted
	Done
)

func (s Status) String() string {
	switch s {
	case Initialised:
		return "initialised"
	case Running:
		return "running"
	case AtBreakpoint:
		return "at_breakpoint"
	case Halted:
		return "halted"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StopReason tags why a stepping command returned control to the caller.
type StopReason int

const (
	ReasonStepped StopReason = iota
	ReasonBreakpoint
	ReasonFailure
	ReasonSolved
)

// StepResult is returned by every control command.
type StepResult struct {
	Reason   StopReason
	Location acir.DebugLocation
	Failure  *acir.SolveFailure

	// SolvedWitness is set whenever this step caused a circuit (the outer
	// one or a callee opened by an ACIR Call) to finish solving; it carries
	// that circuit's final witness map so a caller resolving a pending Call
	// can read its outputs back out.
	SolvedWitness acir.WitnessMap
}

// LocationSource maps an opcode location to an opaque "same source line"
// key, so next_into/next_over/next_out know when the mapped source
// location has changed. It is satisfied by internal/artifact; when nil,
// every distinct opcode location counts as a new source location.
type LocationSource interface {
	SourceKey(loc acir.DebugLocation) (string, bool)
}

// ErrHalted is returned by every control command once the engine has
// recorded a failure and not yet been restarted.
var ErrHalted = errors.New("engine: execution halted, call Restart to continue")

// ErrFinalised is returned by every stepping command once the outer
// circuit has been solved or Finalize has consumed the engine.
var ErrFinalised = errors.New("engine: engine has been finalized")

// Config holds the knobs spec.md leaves to "the compiler toolchain" or
// deployment. Its fields carry env struct tags, but the debug and dap
// commands build it directly rather than reading it from the environment.
type Config struct {
	// MaxForeignCallsPerStep bounds the "unbounded amount of inner work" the
	// foreign-call suspension window is allowed to perform before a single
	// step gives up and reports a SolvingError — a safety valve spec.md
	// explicitly allows to be unbounded but which this implementation
	// caps by default to keep a misbehaving oracle from hanging a step
	// forever in non-interactive (DAP) sessions.
	MaxForeignCallsPerStep int `env:"MAX_FOREIGN_CALLS_PER_STEP" envDefault:"10000"`
}

// frame records one entry onto the call stack: an ACIR Call or BrilligCall
// opened at the given location. An ACIR-call frame carries the caller's
// solver (resumed once the callee circuit finishes solving) and the Call
// opcode itself (so its output witnesses can be read back out of the
// callee's final witness map); a Brillig frame carries neither — e.brillig
// already holds the live VM, and there is no separate "caller solver" to
// restore, only the depth bookkeeping next_over/next_out need.
type frame struct {
	openedAt acir.DebugLocation
	solver   *acir.Solver // nil for a Brillig frame
	call     *acir.Call   // nil for a Brillig frame
}

// Engine is component E.
type Engine struct {
	cfg Config

	circuits        map[uint32]*acir.Circuit
	brilligProgs    map[uint32]*asm.Program
	initialWitness  acir.WitnessMap

	solver    *acir.Solver
	brillig   *vm.VM
	brilligFn *uint32 // function id of the live Brillig VM, if any

	executor *foreigncall.Executor
	store    *vars.Store
	locs     LocationSource

	breakpoints map[string]acir.DebugLocation
	callStack   []frame

	witnessStack acir.WitnessStack

	status  Status
	lastErr *acir.SolveFailure
}

// New constructs an engine positioned at the outer circuit's first opcode.
func New(cfg Config, circuits map[uint32]*acir.Circuit, brilligProgs map[uint32]*asm.Program, outerCircuitID uint32, initialWitness acir.WitnessMap, executor *foreigncall.Executor, store *vars.Store, locs LocationSource) *Engine {
	e := &Engine{
		cfg:            cfg,
		circuits:       circuits,
		brilligProgs:   brilligProgs,
		initialWitness: initialWitness.Clone(),
		executor:       executor,
		store:          store,
		locs:           locs,
		breakpoints:    make(map[string]acir.DebugLocation),
	}
	e.solver = acir.NewSolver(circuits[outerCircuitID], e.initialWitness)
	e.status = Initialised
	return e
}

// Status returns the engine's current high-level state.
func (e *Engine) Status() Status { return e.status }

// IsExecutingBrillig reports whether a Brillig VM is currently live.
func (e *Engine) IsExecutingBrillig() bool { return e.brillig != nil }

// IsSolved reports whether the outer solver has fully solved its circuit
// and no call frames remain open.
func (e *Engine) IsSolved() bool {
	return e.solver != nil && len(e.callStack) == 0 && e.brillig == nil && e.status != Halted &&
		e.solver.PC() >= len(e.circuits[e.solver.CircuitID()].Opcodes)
}

// GetWitnessMap returns a copy of the current (possibly partial) outer
// witness map.
func (e *Engine) GetWitnessMap() acir.WitnessMap {
	if e.solver == nil {
		return nil
	}
	return e.solver.Witness().Clone()
}

// GetCallStack returns the locations at which every currently open call
// frame was entered, outermost first.
func (e *Engine) GetCallStack() []acir.DebugLocation {
	out := make([]acir.DebugLocation, len(e.callStack))
	for i, f := range e.callStack {
		out[i] = f.openedAt
	}
	return out
}

// GetCurrentDebugLocation returns where execution is currently paused.
func (e *Engine) GetCurrentDebugLocation() acir.DebugLocation {
	d := acir.DebugLocation{CircuitID: e.solver.CircuitID(), Loc: acir.OpcodeLocation{AcirIndex: uint32(e.solver.PC())}}
	if e.brillig != nil {
		d.Loc.InBrillig = true
		d.Loc.BrilligIndex = e.brillig.PC()
		d.BrilligFunctionID = e.brilligFn
	}
	return d
}

// GetOpcodesOfCircuit returns the opcode list of circuit id, or false if
// unknown.
func (e *Engine) GetOpcodesOfCircuit(id uint32) ([]acir.Opcode, bool) {
	c, ok := e.circuits[id]
	if !ok {
		return nil, false
	}
	return c.Opcodes, true
}

// IsValidDebugLocation reports whether loc addresses an opcode that exists
// in the loaded program.
func (e *Engine) IsValidDebugLocation(loc acir.DebugLocation) bool {
	c, ok := e.circuits[loc.CircuitID]
	if !ok {
		return false
	}
	if int(loc.Loc.AcirIndex) >= len(c.Opcodes) {
		return false
	}
	if !loc.Loc.InBrillig {
		return true
	}
	op := c.Opcodes[loc.Loc.AcirIndex]
	if op.Kind != acir.OpBrilligCall {
		return false
	}
	prog, ok := e.brilligProgs[op.BrilligCall.FunctionID]
	if !ok {
		return false
	}
	return int(loc.Loc.BrilligIndex) < len(prog.Instr)
}

// GetVariables delegates to the debug variable store.
func (e *Engine) GetVariables() []vars.FrameReport { return e.store.GetVariables() }

// AddBreakpoint inserts loc into the breakpoint set. It fails if loc is
// not reachable in the loaded program (spec.md §3's breakpoint-set
// invariant).
func (e *Engine) AddBreakpoint(loc acir.DebugLocation) error {
	if !e.IsValidDebugLocation(loc) {
		return fmt.Errorf("engine: breakpoint location %s is not reachable in the loaded program", loc)
	}
	e.breakpoints[loc.String()] = loc
	return nil
}

// DeleteBreakpoint removes loc from the breakpoint set.
func (e *Engine) DeleteBreakpoint(loc acir.DebugLocation) {
	delete(e.breakpoints, loc.String())
}

// ListBreakpoints returns the breakpoint set in a stable order: by circuit,
// then ACIR opcode index, then (for a Brillig-local breakpoint) Brillig
// index. The set itself is keyed by its string form in a plain map, so
// without sorting on read, a "breakpoints" REPL listing or DAP
// setBreakpoints acknowledgement would vary across runs of the same
// program.
func (e *Engine) ListBreakpoints() []acir.DebugLocation {
	out := make([]acir.DebugLocation, 0, len(e.breakpoints))
	for _, loc := range e.breakpoints {
		out = append(out, loc)
	}
	slices.SortFunc(out, func(a, b acir.DebugLocation) int {
		if a.CircuitID != b.CircuitID {
			return int(a.CircuitID) - int(b.CircuitID)
		}
		if a.Loc.AcirIndex != b.Loc.AcirIndex {
			return int(a.Loc.AcirIndex) - int(b.Loc.AcirIndex)
		}
		return int(a.Loc.BrilligIndex) - int(b.Loc.BrilligIndex)
	})
	return out
}

// hitBreakpoint reports whether the engine's current location matches a
// set breakpoint. A breakpoint set at a pure-ACIR location matches a
// Brillig region resuming at brillig_index 0 on the same acir_index, per
// spec.md §4.E.
func (e *Engine) hitBreakpoint() (acir.DebugLocation, bool) {
	cur := e.GetCurrentDebugLocation()
	if _, ok := e.breakpoints[cur.String()]; ok {
		return cur, true
	}
	if cur.Loc.InBrillig && cur.Loc.BrilligIndex == 0 {
		bare := acir.DebugLocation{CircuitID: cur.CircuitID, Loc: acir.OpcodeLocation{AcirIndex: cur.Loc.AcirIndex}}
		if _, ok := e.breakpoints[bare.String()]; ok {
			return bare, true
		}
	}
	return acir.DebugLocation{}, false
}

func (e *Engine) requireRunnable() error {
	switch e.status {
	case Halted:
		return ErrHalted
	case Done:
		return ErrFinalised
	}
	return nil
}

// StepAcirOpcode advances exactly one ACIR opcode. If the opcode opens a
// Brillig call, a fresh VM is instantiated and positioned at its first
// opcode without entering it.
func (e *Engine) StepAcirOpcode(ctx context.Context) (StepResult, error) {
	if err := e.requireRunnable(); err != nil {
		return StepResult{}, err
	}
	return e.advanceAcir(ctx)
}

// StepIntoOpcode advances one Brillig opcode if a Brillig VM is live,
// otherwise behaves as StepAcirOpcode. On Brillig completion, the wrapping
// ACIR opcode is finalised (its outputs fed back to the solver).
func (e *Engine) StepIntoOpcode(ctx context.Context) (StepResult, error) {
	if err := e.requireRunnable(); err != nil {
		return StepResult{}, err
	}
	if e.brillig == nil {
		return e.advanceAcir(ctx)
	}
	return e.advanceBrillig(ctx)
}

// NextInto repeats StepIntoOpcode until the mapped source location changes
// or a terminal state is reached.
func (e *Engine) NextInto(ctx context.Context) (StepResult, error) {
	return e.stepUntil(ctx, func() bool { return true })
}

// NextOver behaves as NextInto but treats a call (ACIR Call or Brillig
// entry) as a single step: it records the call-stack depth at entry and
// stops only once the depth has returned to that level and the source
// location differs from the entry location.
func (e *Engine) NextOver(ctx context.Context) (StepResult, error) {
	entryDepth := e.stackDepth()
	return e.stepUntil(ctx, func() bool { return e.stackDepth() <= entryDepth })
}

// NextOut continues until the call-stack depth drops below the entry
// depth, then until the next source-location change — i.e. it finishes
// the current frame.
func (e *Engine) NextOut(ctx context.Context) (StepResult, error) {
	entryDepth := e.stackDepth()
	if entryDepth == 0 {
		return e.stepUntil(ctx, func() bool { return false })
	}
	left := false
	return e.stepUntil(ctx, func() bool {
		if e.stackDepth() < entryDepth {
			left = true
		}
		return left
	})
}

// Cont repeats StepIntoOpcode until a breakpoint hit, a failure, or
// completion.
func (e *Engine) Cont(ctx context.Context) (StepResult, error) {
	if err := e.requireRunnable(); err != nil {
		return StepResult{}, err
	}
	for {
		res, err := e.advanceBrilligOrAcir(ctx)
		if err != nil {
			return res, err
		}
		if res.Reason != ReasonStepped {
			return res, nil
		}
		if loc, ok := e.hitBreakpoint(); ok {
			e.status = AtBreakpoint
			return StepResult{Reason: ReasonBreakpoint, Location: loc}, nil
		}
	}
}

func (e *Engine) stackDepth() int { return len(e.callStack) }

// stepUntil drives StepIntoOpcode, checking stop(additional depth
// condition) and the mapped-source-location-changed condition together,
// exactly as next_into/next_over/next_out require.
func (e *Engine) stepUntil(ctx context.Context, depthSatisfied func() bool) (StepResult, error) {
	if err := e.requireRunnable(); err != nil {
		return StepResult{}, err
	}
	startKey, _ := e.sourceKey(e.GetCurrentDebugLocation())
	for {
		res, err := e.advanceBrilligOrAcir(ctx)
		if err != nil {
			return res, err
		}
		if res.Reason != ReasonStepped {
			return res, nil
		}
		if loc, ok := e.hitBreakpoint(); ok {
			e.status = AtBreakpoint
			return StepResult{Reason: ReasonBreakpoint, Location: loc}, nil
		}
		key, _ := e.sourceKey(res.Location)
		if depthSatisfied() && key != startKey {
			return res, nil
		}
	}
}

func (e *Engine) sourceKey(loc acir.DebugLocation) (string, bool) {
	if e.locs == nil {
		return loc.String(), true
	}
	return e.locs.SourceKey(loc)
}

func (e *Engine) advanceBrilligOrAcir(ctx context.Context) (StepResult, error) {
	if e.brillig != nil {
		return e.advanceBrillig(ctx)
	}
	return e.advanceAcir(ctx)
}

// advanceAcir drives the ACIR solver exactly one opcode. Opening a Call or
// a Brillig call is itself that one opcode: it pushes a call-stack frame
// and switches the active solver (or instantiates the Brillig VM) without
// running the callee any further, so a subsequent StepAcirOpcode/
// StepIntoOpcode walks the callee's own opcodes one at a time through this
// same function, and next_over/next_out see a real depth transition to
// watch for instead of the whole callee disappearing inside one step.
func (e *Engine) advanceAcir(ctx context.Context) (StepResult, error) {
	status, err := e.solver.Step()
	switch status {
	case acir.Solved:
		solvedWitness := e.solver.Witness()
		e.witnessStack = append(e.witnessStack, acir.WitnessStackFrame{CircuitID: e.solver.CircuitID(), Witness: solvedWitness})
		if len(e.callStack) > 0 {
			if rerr := e.popCallFrame(solvedWitness); rerr != nil {
				return e.fail(&acir.SolveFailure{Kind: acir.SolvingError, Message: rerr.Error()})
			}
			return StepResult{Reason: ReasonStepped, Location: e.GetCurrentDebugLocation(), SolvedWitness: solvedWitness}, nil
		}
		e.status = Done
		return StepResult{Reason: ReasonSolved, Location: e.GetCurrentDebugLocation(), SolvedWitness: solvedWitness}, nil

	case acir.Failure:
		return e.fail(err.(*acir.SolveFailure))

	case acir.RequiresForeignCall:
		call, _ := e.solver.PendingCall()
		callee, ok := e.circuits[call.CircuitID]
		if !ok {
			return e.fail(&acir.SolveFailure{Kind: acir.SolvingError, Message: fmt.Sprintf("unknown circuit id %d", call.CircuitID)})
		}
		w := e.solver.Witness()
		initial := make(acir.WitnessMap, len(call.Inputs))
		for i, in := range call.Inputs {
			initial[acir.Witness(i)] = w[in]
		}
		e.callStack = append(e.callStack, frame{openedAt: e.GetCurrentDebugLocation(), solver: e.solver, call: call})
		e.solver = acir.NewSolver(callee, initial)
		return StepResult{Reason: ReasonStepped, Location: e.GetCurrentDebugLocation()}, nil

	case acir.RequiresBrilligCall:
		call, _ := e.solver.PendingBrillig()
		prog, ok := e.brilligProgs[call.FunctionID]
		if !ok {
			return e.fail(&acir.SolveFailure{Kind: acir.SolvingError, Message: fmt.Sprintf("unknown brillig function id %d", call.FunctionID)})
		}
		mem := make(vm.Memory, len(call.Inputs))
		w := e.solver.Witness()
		for i, in := range call.Inputs {
			mem[asm.Addr(i)] = vm.Cell{Value: w[in]}
		}
		e.callStack = append(e.callStack, frame{openedAt: e.GetCurrentDebugLocation()})
		e.brillig = vm.New(prog, mem)
		fnID := call.FunctionID
		e.brilligFn = &fnID
		return StepResult{Reason: ReasonStepped, Location: e.GetCurrentDebugLocation()}, nil

	default:
		return StepResult{Reason: ReasonStepped, Location: e.GetCurrentDebugLocation()}, nil
	}
}

// advanceBrillig drives the live Brillig VM exactly one opcode, resolving
// foreign calls synchronously, and finalises the wrapping ACIR opcode on
// completion.
func (e *Engine) advanceBrillig(ctx context.Context) (StepResult, error) {
	status, err := e.brillig.Step()
	for i := 0; status == vm.RequiresForeignCall; i++ {
		if i >= e.cfg.MaxForeignCallsPerStep {
			return e.fail(&acir.SolveFailure{Kind: acir.SolvingError, Message: "foreign call resolution exceeded the configured step budget"})
		}
		req, _ := e.brillig.PendingForeignCall()
		outputs, rerr := e.resolveForeignCall(ctx, req.Name, req.Inputs)
		if rerr != nil {
			return e.failBrillig(rerr.Error())
		}
		if rerr := e.brillig.ResolveForeignCall(outputs); rerr != nil {
			return e.failBrillig(rerr.Error())
		}
		status, err = e.brillig.Step()
	}
	switch status {
	case vm.Finished:
		call, _ := e.solver.PendingBrillig()
		mem := e.brillig.Memory()
		outputs := make([]field.Element, len(call.Outputs))
		for i := range call.Outputs {
			// Output values are read back from the same low memory addresses
			// inputs were written to (asm.Addr(0)..asm.Addr(len(outputs)-1)):
			// the calling convention this debugger's Brillig linker uses for
			// a function's result slots.
			outputs[i] = mem[asm.Addr(i)].Value
		}
		e.brillig = nil
		e.brilligFn = nil
		if n := len(e.callStack); n > 0 && e.callStack[n-1].call == nil {
			e.callStack = e.callStack[:n-1]
		}
		if rerr := e.solver.ResolveBrilligCall(outputs); rerr != nil {
			return e.fail(&acir.SolveFailure{Kind: acir.SolvingError, Message: rerr.Error()})
		}
		return StepResult{Reason: ReasonStepped, Location: e.GetCurrentDebugLocation()}, nil

	case vm.Failure:
		trap := e.brillig.Err()
		e.brillig = nil
		e.brilligFn = nil
		return e.failBrillig(trap.Message)

	default:
		_ = err
		return StepResult{Reason: ReasonStepped, Location: e.GetCurrentDebugLocation()}, nil
	}
}

// popCallFrame closes the top ACIR-call frame: it resumes the caller's
// solver and feeds the callee's output witnesses back into the Call
// opcode that opened it, letting the caller's own Step continue past it on
// the next advanceAcir. advanceAcir only reaches here with the solver
// itself reporting acir.Solved, which can only happen while no Brillig VM
// is live — so the top frame is always an ACIR-call frame (call != nil) at
// this point; a live Brillig frame on top would mean advanceBrilligOrAcir
// routed to advanceBrillig instead, and Brillig frames are popped there,
// by advanceBrillig's own vm.Finished case.
func (e *Engine) popCallFrame(calleeWitness acir.WitnessMap) error {
	n := len(e.callStack) - 1
	f := e.callStack[n]
	e.callStack = e.callStack[:n]
	if f.call == nil {
		return fmt.Errorf("engine: internal error: top call frame is not an ACIR call")
	}
	outputs := make([]field.Element, len(f.call.Outputs))
	for i, w := range f.call.Outputs {
		outputs[i] = calleeWitness[w]
	}
	e.solver = f.solver
	return e.solver.ResolveCall(outputs)
}

func (e *Engine) resolveForeignCall(ctx context.Context, name string, inputs []field.Element) ([]field.Element, error) {
	res, err := e.executor.Execute(ctx, foreigncall.Call{Name: name, Args: inputs})
	if err != nil {
		return nil, err
	}
	return res.Outputs, nil
}

func (e *Engine) fail(f *acir.SolveFailure) (StepResult, error) {
	e.lastErr = f
	e.status = Halted
	return StepResult{Reason: ReasonFailure, Location: e.GetCurrentDebugLocation(), Failure: f}, nil
}

func (e *Engine) failBrillig(message string) (StepResult, error) {
	stack := e.GetCallStack()
	locs := make([]acir.OpcodeLocation, 0, len(stack)+1)
	for _, l := range stack {
		locs = append(locs, l.Loc)
	}
	locs = append(locs, e.GetCurrentDebugLocation().Loc)
	status, err := e.solver.FailBrillig(message, locs)
	if status == acir.Failure {
		return e.fail(err.(*acir.SolveFailure))
	}
	return e.fail(&acir.SolveFailure{Kind: acir.BrilligFunctionFailed, Message: message, BrilligCallStack: locs})
}

// LastFailure returns the failure recorded by the last command that
// halted the engine, or nil.
func (e *Engine) LastFailure() *acir.SolveFailure { return e.lastErr }

// OverwriteWitness replaces a value in the current witness map and
// returns the previous value.
func (e *Engine) OverwriteWitness(w acir.Witness, v field.Element) field.Element {
	prev := e.solver.Witness()[w]
	e.solver.OverwriteWitness(w, v)
	return prev
}

// WriteBrilligMemory writes a typed cell in the live Brillig VM. It is a
// no-op when no Brillig VM is live; front-ends should pre-check
// IsExecutingBrillig per spec.md §4.E.
func (e *Engine) WriteBrilligMemory(addr asm.Addr, v field.Element, bitSize asm.BitSize) {
	if e.brillig == nil {
		return
	}
	e.brillig.WriteMemory(addr, v, bitSize)
}

// GetBrilligMemory returns a copy of the live Brillig VM's memory, or nil
// if none is live.
func (e *Engine) GetBrilligMemory() vm.Memory {
	if e.brillig == nil {
		return nil
	}
	mem := e.brillig.Memory()
	cp := make(vm.Memory, len(mem))
	for k, v := range mem {
		cp[k] = v
	}
	return cp
}

// Restart reconstructs the engine from its original (circuits,
// initial_witness, brillig_functions), preserving the breakpoint set. No
// history of prior executions is retained.
func (e *Engine) Restart(outerCircuitID uint32) {
	e.solver = acir.NewSolver(e.circuits[outerCircuitID], e.initialWitness)
	e.brillig = nil
	e.brilligFn = nil
	e.callStack = nil
	e.witnessStack = nil
	e.lastErr = nil
	e.status = Initialised
}

// Finalize is terminal: it extracts the witness stack and consumes the
// engine. Calling any stepping command afterwards returns ErrFinalised.
func (e *Engine) Finalize() (acir.WitnessStack, error) {
	if e.status == Done {
		ws := e.witnessStack
		e.status = Done
		return ws, nil
	}
	ws := e.witnessStack
	e.status = Done
	return ws, nil
}
