// Package protocol implements the command/result protocol (spec
// component F): a typed command/result pair exchanged over two
// unidirectional, ordered channels, with one dedicated goroutine owning
// the debug engine's state exclusively.
//
// Message shapes are grounded directly on
// original_source/tooling/debugger/src/debug.rs's DebugCommandAPI /
// DebugCommandAPIResult enums; the single-owner-goroutine-plus-channels
// shape is grounded on the teacher's lang/machine Thread, which likewise
// confines all mutation of execution state to the goroutine driving it.
package protocol

import (
	"context"
	"fmt"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/brillig/asm"
	"github.com/mna/acirdbg/internal/brillig/vm"
	"github.com/mna/acirdbg/internal/engine"
	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/vars"
)

// CommandKind tags a Command's variant.
type CommandKind int

const (
	CmdGetCurrentDebugLocation CommandKind = iota
	CmdGetOpcodesOfCircuit
	CmdGetSourceLocationFor
	CmdGetCallStack
	CmdGetWitnessMap
	CmdIsExecutingBrillig
	CmdGetBrilligMemory
	CmdGetVariables
	CmdIsSolved
	CmdIsValidDebugLocation
	CmdFindOpcodeAtCurrentFileLine

	CmdStepAcirOpcode
	CmdStepIntoOpcode
	CmdNextInto
	CmdNextOver
	CmdNextOut
	CmdCont
	CmdRestart

	CmdAddBreakpoint
	CmdDeleteBreakpoint
	CmdListBreakpoints
	CmdOverwriteWitness
	CmdWriteBrilligMemory

	CmdFinalize
)

// Command is sent front-end → engine. Exactly one field of the payload is
// meaningful per Kind; the rest are the zero value.
type Command struct {
	Kind CommandKind

	CircuitID uint32
	Loc       acir.DebugLocation
	Line      int

	Breakpoint acir.DebugLocation

	Witness      acir.Witness
	WitnessValue field.Element

	BrilligAddr    asm.Addr
	BrilligValue   field.Element
	BrilligBitSize asm.BitSize
}

// ResultKind tags a Result's variant. Each Command has exactly one
// matching ResultKind; a mismatch at the front-end is a contract
// violation (spec.md §4.F).
type ResultKind int

const (
	ResDebugLocation ResultKind = iota
	ResOpcodes
	ResSourceSpans
	ResCallStack
	ResBreakpoints
	ResWitnessMap
	ResBool
	ResBrilligMemory
	ResVariables
	ResOpcodeLocation

	ResStep
	ResVoid
	ResWitnessValue
	ResWitnessStack

	ResError
)

// Result is sent engine → front-end, exactly one per Command, in order.
type Result struct {
	Kind ResultKind

	Location acir.DebugLocation
	Opcodes  []acir.Opcode
	Spans    []SourceSpan
	Stack    []acir.DebugLocation
	Witness  acir.WitnessMap
	Bool     bool
	Memory   vm.Memory
	Vars     []vars.FrameReport
	OpLoc    acir.OpcodeLocation
	OpLocOK  bool

	Step         engine.StepResult
	PrevWitness  field.Element
	WitnessStack acir.WitnessStack

	Err error
}

// SourceSpan is a placeholder shape for a source location until
// internal/artifact's richer span type is substituted in by a front-end
// that needs more than a file id and line/column.
type SourceSpan struct {
	FileID     uint32
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
}

// SourceLocator is implemented by internal/artifact and supplies
// GetSourceLocationFor/GetOpcodesOfCircuit-adjacent lookups the worker
// needs but which are not part of Engine itself.
type SourceLocator interface {
	SourceSpansFor(loc acir.DebugLocation) ([]SourceSpan, bool)
	FindOpcodeAtLine(fileID uint32, line int) (acir.OpcodeLocation, bool)
}

// Session owns a worker goroutine driving a single Engine; front-ends
// interact with it exclusively through Commands and Results, never
// touching the Engine directly, matching spec.md §5's single-owner
// concurrency model.
type Session struct {
	cmd    chan Command
	res    chan Result
	engine *engine.Engine
	locs   SourceLocator
}

// NewSession starts the worker goroutine and returns a Session bound to
// it. The caller must eventually either drive Finalize to completion or
// cancel ctx; either closes the result channel and the worker goroutine
// exits.
func NewSession(ctx context.Context, eng *engine.Engine, locs SourceLocator) *Session {
	s := &Session{
		cmd:    make(chan Command),
		res:    make(chan Result),
		engine: eng,
		locs:   locs,
	}
	go s.run(ctx)
	return s
}

// Send issues cmd and blocks for its matching result. Calling Send
// concurrently from multiple goroutines is safe but results are still
// delivered strictly FIFO relative to Send call order only if the caller
// itself serialises its own calls — concurrent callers must serialise
// externally, as spec.md's single command/result pair assumes one
// front-end goroutine.
func (s *Session) Send(cmd Command) (Result, bool) {
	s.cmd <- cmd
	res, ok := <-s.res
	return res, ok
}

// run is the dedicated worker goroutine: it owns the engine exclusively
// and processes commands strictly FIFO, one result per command, until the
// command channel closes or Finalize is processed.
func (s *Session) run(ctx context.Context) {
	defer close(s.res)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-s.cmd:
			if !ok {
				return
			}
			res := s.dispatch(ctx, cmd)
			s.res <- res
			if cmd.Kind == CmdFinalize {
				return
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, cmd Command) Result {
	switch cmd.Kind {
	case CmdGetCurrentDebugLocation:
		return Result{Kind: ResDebugLocation, Location: s.engine.GetCurrentDebugLocation()}

	case CmdGetOpcodesOfCircuit:
		ops, ok := s.engine.GetOpcodesOfCircuit(cmd.CircuitID)
		if !ok {
			return errResult(fmt.Errorf("protocol: unknown circuit id %d", cmd.CircuitID))
		}
		return Result{Kind: ResOpcodes, Opcodes: ops}

	case CmdGetSourceLocationFor:
		if s.locs == nil {
			return Result{Kind: ResSourceSpans}
		}
		spans, _ := s.locs.SourceSpansFor(cmd.Loc)
		return Result{Kind: ResSourceSpans, Spans: spans}

	case CmdGetCallStack:
		return Result{Kind: ResCallStack, Stack: s.engine.GetCallStack()}

	case CmdGetWitnessMap:
		return Result{Kind: ResWitnessMap, Witness: s.engine.GetWitnessMap()}

	case CmdIsExecutingBrillig:
		return Result{Kind: ResBool, Bool: s.engine.IsExecutingBrillig()}

	case CmdGetBrilligMemory:
		return Result{Kind: ResBrilligMemory, Memory: s.engine.GetBrilligMemory()}

	case CmdGetVariables:
		return Result{Kind: ResVariables, Vars: s.engine.GetVariables()}

	case CmdIsSolved:
		return Result{Kind: ResBool, Bool: s.engine.IsSolved()}

	case CmdIsValidDebugLocation:
		return Result{Kind: ResBool, Bool: s.engine.IsValidDebugLocation(cmd.Loc)}

	case CmdFindOpcodeAtCurrentFileLine:
		if s.locs == nil {
			return Result{Kind: ResOpcodeLocation}
		}
		spans, ok := s.locs.SourceSpansFor(s.engine.GetCurrentDebugLocation())
		if !ok || len(spans) == 0 {
			return Result{Kind: ResOpcodeLocation}
		}
		loc, ok := s.locs.FindOpcodeAtLine(spans[0].FileID, cmd.Line)
		return Result{Kind: ResOpcodeLocation, OpLoc: loc, OpLocOK: ok}

	case CmdStepAcirOpcode:
		return s.stepResult(s.engine.StepAcirOpcode(ctx))
	case CmdStepIntoOpcode:
		return s.stepResult(s.engine.StepIntoOpcode(ctx))
	case CmdNextInto:
		return s.stepResult(s.engine.NextInto(ctx))
	case CmdNextOver:
		return s.stepResult(s.engine.NextOver(ctx))
	case CmdNextOut:
		return s.stepResult(s.engine.NextOut(ctx))
	case CmdCont:
		return s.stepResult(s.engine.Cont(ctx))
	case CmdRestart:
		s.engine.Restart(cmd.CircuitID)
		return Result{Kind: ResVoid}

	case CmdAddBreakpoint:
		if err := s.engine.AddBreakpoint(cmd.Breakpoint); err != nil {
			return errResult(err)
		}
		return Result{Kind: ResVoid}
	case CmdDeleteBreakpoint:
		s.engine.DeleteBreakpoint(cmd.Breakpoint)
		return Result{Kind: ResVoid}
	case CmdListBreakpoints:
		return Result{Kind: ResBreakpoints, Stack: s.engine.ListBreakpoints()}
	case CmdOverwriteWitness:
		prev := s.engine.OverwriteWitness(cmd.Witness, cmd.WitnessValue)
		return Result{Kind: ResWitnessValue, PrevWitness: prev}
	case CmdWriteBrilligMemory:
		s.engine.WriteBrilligMemory(cmd.BrilligAddr, cmd.BrilligValue, cmd.BrilligBitSize)
		return Result{Kind: ResVoid}

	case CmdFinalize:
		ws, err := s.engine.Finalize()
		if err != nil {
			return errResult(err)
		}
		return Result{Kind: ResWitnessStack, WitnessStack: ws}

	default:
		return errResult(fmt.Errorf("protocol: unknown command kind %d", cmd.Kind))
	}
}

func (s *Session) stepResult(step engine.StepResult, err error) Result {
	if err != nil {
		return errResult(err)
	}
	return Result{Kind: ResStep, Step: step}
}

func errResult(err error) Result { return Result{Kind: ResError, Err: err} }
