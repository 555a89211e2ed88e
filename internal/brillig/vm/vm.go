// Package vm implements the Brillig unconstrained virtual machine: a
// register+memory machine stepped one instruction at a time so the debug
// execution engine can suspend after each one.
//
// It is repurposed from the teacher's lang/machine run loop (step
// counter, opcode fetch/dispatch, a single failure exit point), rewritten
// as a Step method instead of a run-to-completion loop, with a new
// suspension point — Step returning RequiresForeignCall — that the
// teacher's machine has no equivalent of (grounded on
// original_source/acvm-repo/brillig_vm/src/lib.rs's VMStatus::ForeignCallWait).
package vm

import (
	"fmt"

	"github.com/mna/acirdbg/internal/brillig/asm"
	"github.com/mna/acirdbg/internal/field"
)

// Status is the result of one call to VM.Step.
type Status int

const (
	InProgress Status = iota
	Finished
	Failure
	RequiresForeignCall
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	case Failure:
		return "failure"
	case RequiresForeignCall:
		return "requires_foreign_call"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Cell is one memory slot: a field value tagged with its intended bit
// size, mirroring Brillig's typed-memory model (noirc the outer ACIR
// layer sees only field elements, but Brillig's own memory distinguishes
// integer widths for wraparound semantics).
type Cell struct {
	Value   field.Element
	BitSize asm.BitSize
}

// Memory is the VM's flat address space.
type Memory map[asm.Addr]Cell

// ForeignCallRequest describes a pending OpForeignCall instruction: the
// oracle name and its current input values. The caller (internal/engine,
// via internal/foreigncall) resolves it with ResolveForeignCall.
type ForeignCallRequest struct {
	Name   string
	Inputs []field.Element
}

// Trap is recorded by VM.Err after Step returns Failure.
type Trap struct {
	Message string
	PC      uint32
}

func (t *Trap) Error() string { return fmt.Sprintf("brillig: trap at pc %d: %s", t.PC, t.Message) }

// VM is a single Brillig function's execution state.
type VM struct {
	prog *asm.Program
	mem  Memory
	pc   uint32

	pending *ForeignCallRequest
	pendingOutputs []asm.Addr

	trap *Trap
}

// New returns a VM ready to execute prog, with mem as its initial memory
// (inputs pre-populated by the caller; never mutated in place — New
// clones it).
func New(prog *asm.Program, mem Memory) *VM {
	cp := make(Memory, len(mem))
	for k, v := range mem {
		cp[k] = v
	}
	return &VM{prog: prog, mem: cp}
}

// Memory returns the VM's current memory. Safe to read; use WriteMemory to
// mutate (e.g. for a REPL memset command).
func (m *VM) Memory() Memory { return m.mem }

// WriteMemory lets the debug engine force a memory cell's value, as with
// acir.Solver.OverwriteWitness.
func (m *VM) WriteMemory(addr asm.Addr, v field.Element, bitSize asm.BitSize) {
	m.mem[addr] = Cell{Value: v, BitSize: bitSize}
}

// PC returns the index of the next instruction Step will execute.
func (m *VM) PC() uint32 { return m.pc }

// Err returns the trap recorded by the last Step call that returned
// Failure.
func (m *VM) Err() *Trap { return m.trap }

// PendingForeignCall returns the request Step last paused on, if any.
func (m *VM) PendingForeignCall() (*ForeignCallRequest, bool) {
	return m.pending, m.pending != nil
}

// Step executes exactly one instruction. Once the program counter runs
// past the last instruction it returns Finished, and keeps returning
// Finished on further calls. Calling Step after Failure or while a foreign
// call is pending (before ResolveForeignCall) panics: these are caller
// sequencing errors.
func (m *VM) Step() (Status, error) {
	if m.trap != nil {
		panic("vm: Step called after Failure")
	}
	if m.pending != nil {
		panic("vm: Step called with a foreign call pending")
	}
	if int(m.pc) >= len(m.prog.Instr) {
		return Finished, nil
	}

	instr := m.prog.Instr[m.pc]
	switch instr.Op {
	case asm.OpNop:
		m.pc++

	case asm.OpConst:
		f, err := field.FromHex(instr.Const)
		if err != nil {
			// A constant that does not decode as hex is parsed as decimal.
			// A string that does decode as hex (e.g. "10") is read as hex.
			var ok bool
			f, ok = parseDecimal(instr.Const)
			if !ok {
				return m.fail(fmt.Sprintf("malformed constant %q", instr.Const))
			}
		}
		m.mem[instr.Dst] = Cell{Value: f, BitSize: instr.BitSize}
		m.pc++

	case asm.OpMov:
		m.mem[instr.Dst] = m.mem[instr.Src1]
		m.pc++

	case asm.OpBinary:
		if err := m.binary(instr); err != nil {
			return m.fail(err.Error())
		}
		m.pc++

	case asm.OpNot:
		src := m.mem[instr.Src1]
		m.mem[instr.Dst] = Cell{Value: bitwiseNot(src.Value, src.BitSize), BitSize: src.BitSize}
		m.pc++

	case asm.OpCast:
		src := m.mem[instr.Src1]
		m.mem[instr.Dst] = Cell{Value: truncate(src.Value, instr.BitSize), BitSize: instr.BitSize}
		m.pc++

	case asm.OpJump:
		m.pc = instr.Target

	case asm.OpJumpIf:
		if !m.mem[instr.Src1].Value.IsZero() {
			m.pc = instr.Target
		} else {
			m.pc++
		}

	case asm.OpJumpIfNot:
		if m.mem[instr.Src1].Value.IsZero() {
			m.pc = instr.Target
		} else {
			m.pc++
		}

	case asm.OpForeignCall:
		inputs := make([]field.Element, len(instr.ForeignCallInputs))
		for i, a := range instr.ForeignCallInputs {
			inputs[i] = m.mem[a].Value
		}
		m.pending = &ForeignCallRequest{Name: instr.ForeignCallName, Inputs: inputs}
		m.pendingOutputs = instr.ForeignCallOutputs
		return RequiresForeignCall, nil

	case asm.OpTrap:
		return m.fail(instr.TrapMessage)

	case asm.OpStop, asm.OpReturn:
		m.pc = uint32(len(m.prog.Instr))
		return Finished, nil

	case asm.OpLoad:
		m.mem[instr.Dst] = m.mem[asm.Addr(m.mem[instr.Src1].Value.ToUint64())]
		m.pc++

	case asm.OpStore:
		m.mem[asm.Addr(m.mem[instr.Dst].Value.ToUint64())] = m.mem[instr.Src1]
		m.pc++

	case asm.OpCall:
		// Intra-function calls are not modeled: Brillig functions the ACIR
		// layer invokes are leaf calls from the debug engine's point of
		// view (internal/acir.BrilligCall already names the target
		// function id directly). A nested OpCall would require a Brillig
		// call stack, out of scope for this release.
		return m.fail("nested Brillig-to-Brillig calls are not supported")

	default:
		return m.fail(fmt.Sprintf("unknown opcode %s", instr.Op))
	}

	if int(m.pc) >= len(m.prog.Instr) {
		return Finished, nil
	}
	return InProgress, nil
}

// ResolveForeignCall supplies the oracle's return values for a pending
// OpForeignCall, writes them to the instruction's declared output
// addresses, and advances past it.
func (m *VM) ResolveForeignCall(outputs []field.Element) error {
	if m.pending == nil {
		return fmt.Errorf("vm: no pending foreign call to resolve")
	}
	if len(outputs) != len(m.pendingOutputs) {
		return fmt.Errorf("vm: foreign call %q expected %d outputs, got %d", m.pending.Name, len(m.pendingOutputs), len(outputs))
	}
	for i, addr := range m.pendingOutputs {
		m.mem[addr] = Cell{Value: outputs[i]}
	}
	m.pending = nil
	m.pendingOutputs = nil
	m.pc++
	return nil
}

func (m *VM) fail(message string) (Status, error) {
	t := &Trap{Message: message, PC: m.pc}
	m.trap = t
	return Failure, t
}

func (m *VM) binary(instr asm.Instr) error {
	x := m.mem[instr.Src1].Value
	y := m.mem[instr.Src2].Value
	var z field.Element
	switch instr.Bin {
	case asm.BinAdd:
		z = x.Add(y)
	case asm.BinSub:
		z = x.Sub(y)
	case asm.BinMul:
		z = x.Mul(y)
	case asm.BinDiv:
		if y.IsZero() {
			return fmt.Errorf("division by zero")
		}
		z = x.Mul(y.Inv())
	case asm.BinEq:
		if x.Equal(y) {
			z = field.One()
		}
	default:
		// Bitwise/comparison ops on field elements are only meaningful once
		// truncated to their declared bit size; this VM does not execute
		// them here, and the step fails with an error instead.
		return fmt.Errorf("binary op %d not supported on field-typed cells without a prior cast", instr.Bin)
	}
	m.mem[instr.Dst] = Cell{Value: z, BitSize: instr.BitSize}
	return nil
}

func bitwiseNot(f field.Element, bitSize asm.BitSize) field.Element {
	if bitSize == asm.BitSizeField || bitSize == 0 {
		return f
	}
	mask := (uint64(1) << uint(bitSize)) - 1
	return field.FromUint64(mask).Sub(f)
}

func truncate(f field.Element, bitSize asm.BitSize) field.Element {
	if bitSize == asm.BitSizeField || bitSize == 0 {
		return f
	}
	u := f.ToUint128()
	mask := (uint64(1) << uint(bitSize)) - 1
	return field.FromUint64(u.Uint64() & mask)
}

func parseDecimal(s string) (field.Element, bool) {
	var f field.Element
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return f, false
	}
	return field.FromUint64(n), true
}
