package engine_test

import (
	"context"
	"testing"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/engine"
	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/foreigncall"
	"github.com/mna/acirdbg/internal/vars"
	"github.com/stretchr/testify/require"
)

// twoCircuitProgram builds a caller circuit that calls a callee circuit and
// checks its result, wired so the caller's witness 0 is its public input
// and witness 1 receives the callee's output. The callee receives the
// caller's witness 0 as its own local witness 0 (Call.Inputs is positional
// into the callee's witness map), and computes its result into local
// witness 1, matching Call.Outputs's convention of naming a callee witness
// index directly:
//
//	callee (circuit 1): w1 = 2 * w0   (a single solving AssertZero)
//	caller (circuit 0): w1 := call(circuit 1, [w0])
//	                    assert w1 - 2*w0 == 0
func twoCircuitProgram() (map[uint32]*acir.Circuit, acir.WitnessMap) {
	unknown := acir.Witness(1)
	callee := &acir.Circuit{
		ID: 1,
		Opcodes: []acir.Opcode{{
			Kind: acir.OpAssertZero,
			AssertZero: &acir.AssertZero{
				Linear: []acir.LinearTerm{
					{Coeff: field.Zero().Sub(field.FromUint64(2)), W: acir.Witness(0)},
					{Coeff: field.FromUint64(1), W: acir.Witness(1)},
				},
				Unknown: &unknown,
			},
		}},
	}

	caller := &acir.Circuit{
		ID: 0,
		Opcodes: []acir.Opcode{
			{
				Kind: acir.OpCall,
				Call: &acir.Call{
					CircuitID: 1,
					Inputs:    []acir.Witness{0},
					Outputs:   []acir.Witness{1},
				},
			},
			{
				Kind: acir.OpAssertZero,
				AssertZero: &acir.AssertZero{
					Linear: []acir.LinearTerm{
						{Coeff: field.FromUint64(1), W: acir.Witness(1)},
						{Coeff: field.Zero().Sub(field.FromUint64(2)), W: acir.Witness(0)},
					},
				},
			},
		},
	}

	circuits := map[uint32]*acir.Circuit{0: caller, 1: callee}
	initial := acir.WitnessMap{acir.Witness(0): field.FromUint64(5)}
	return circuits, initial
}

func newTestEngine() *engine.Engine {
	circuits, initial := twoCircuitProgram()
	store := vars.New()
	executor := foreigncall.New(store, store.TypeOf)
	return engine.New(engine.Config{MaxForeignCallsPerStep: 100}, circuits, nil, 0, initial, executor, store, nil)
}

// TestStepAcirOpcodeOpensCallWithoutResolvingIt closes the gap that used to
// make an ACIR Call opcode execute its entire callee circuit (and any
// further nested calls) inside a single step: opening the call must itself
// be the one opcode a step advances.
func TestStepAcirOpcodeOpensCallWithoutResolvingIt(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	res, err := e.StepAcirOpcode(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.ReasonStepped, res.Reason)

	// The call has been opened, not resolved: the engine is now positioned
	// on the callee circuit's own first opcode, one level of call stack
	// deep.
	require.Len(t, e.GetCallStack(), 1)
	loc := e.GetCurrentDebugLocation()
	require.EqualValues(t, 1, loc.CircuitID)
	require.EqualValues(t, 0, loc.Loc.AcirIndex)

	// One more step solves the callee's single opcode and pops back to the
	// caller, feeding the callee's output witness into the Call opcode.
	res, err = e.StepAcirOpcode(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.ReasonStepped, res.Reason)
	require.Len(t, e.GetCallStack(), 0)
	loc = e.GetCurrentDebugLocation()
	require.EqualValues(t, 0, loc.CircuitID)
	require.EqualValues(t, 1, loc.Loc.AcirIndex)

	res, err = e.StepAcirOpcode(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.ReasonSolved, res.Reason)
}

// TestListBreakpointsIsSortedDeterministically guards against a plain
// map's random iteration order leaking into a breakpoints listing: the
// breakpoint set is keyed by string in a map, so only sorting on read
// keeps repeated listings of the same set identical.
func TestListBreakpointsIsSortedDeterministically(t *testing.T) {
	e := newTestEngine()
	locs := []acir.DebugLocation{
		{CircuitID: 1, Loc: acir.OpcodeLocation{AcirIndex: 0}},
		{CircuitID: 0, Loc: acir.OpcodeLocation{AcirIndex: 1}},
		{CircuitID: 0, Loc: acir.OpcodeLocation{AcirIndex: 0}},
	}
	for _, loc := range locs {
		require.NoError(t, e.AddBreakpoint(loc))
	}

	got := e.ListBreakpoints()
	require.Equal(t, []acir.DebugLocation{
		{CircuitID: 0, Loc: acir.OpcodeLocation{AcirIndex: 0}},
		{CircuitID: 0, Loc: acir.OpcodeLocation{AcirIndex: 1}},
		{CircuitID: 1, Loc: acir.OpcodeLocation{AcirIndex: 0}},
	}, got)
}

// TestNextOverSkipsCalleeAsASingleStep is the regression for next_over
// degrading to next_into: it must not stop anywhere inside the callee
// circuit it just opened.
func TestNextOverSkipsCalleeAsASingleStep(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	res, err := e.NextOver(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.ReasonStepped, res.Reason)

	// NextOver must have walked straight through the callee and landed
	// back in the caller circuit, not somewhere inside circuit 1.
	loc := e.GetCurrentDebugLocation()
	require.EqualValues(t, 0, loc.CircuitID, "next_over must not stop inside the callee circuit")
	require.Len(t, e.GetCallStack(), 0)

	res, err = e.NextOver(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.ReasonSolved, res.Reason)
}
