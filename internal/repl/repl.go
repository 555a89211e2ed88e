// Package repl implements the terminal front-end: the interactive
// command vocabulary from spec.md §6, read with
// github.com/chzyer/readline for line editing/history and rendered with
// github.com/fatih/color for breakpoint/current-line highlighting.
//
// Commands are dispatched by a string-keyed switch over the first word of
// each line, each case issuing internal/protocol commands, instead of the
// one-shot, reflection-dispatched subcommands of internal/maincmd.
package repl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/brillig/asm"
	"github.com/mna/acirdbg/internal/engine"
	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/protocol"
	"github.com/mna/acirdbg/internal/ptype"
)

var (
	breakpointColor = color.New(color.FgRed, color.Bold)
	currentColor    = color.New(color.FgGreen, color.Bold)
	errorColor      = color.New(color.FgRed)
)

// REPL drives a protocol.Session from a terminal.
type REPL struct {
	session      *protocol.Session
	out          io.Writer
	rl           *readline.Instance
	outerCircuit uint32
}

// New constructs a REPL reading from an interactive terminal and writing
// to out.
func New(session *protocol.Session, out io.Writer, outerCircuit uint32) (*REPL, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "(acirdbg) ",
		HistoryFile: "",
		Stdout:      out,
	})
	if err != nil {
		return nil, fmt.Errorf("repl: %w", err)
	}
	return &REPL{session: session, out: out, rl: rl, outerCircuit: outerCircuit}, nil
}

// Close releases the underlying line editor.
func (r *REPL) Close() error { return r.rl.Close() }

// Run reads commands until EOF or the session finalises, returning the
// process exit code: 0 when the session ends with a solved witness
// stack, non-zero when halted with an error (spec.md §6).
func (r *REPL) Run(ctx context.Context) int {
	for {
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return r.exitCode()
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		done, code := r.dispatch(ctx, fields[0], fields[1:])
		if done {
			return code
		}
	}
}

func (r *REPL) dispatch(ctx context.Context, cmd string, args []string) (done bool, code int) {
	switch cmd {
	case "step":
		r.step(ctx, protocol.CmdStepAcirOpcode)
	case "into":
		r.step(ctx, protocol.CmdStepIntoOpcode)
	case "next":
		r.step(ctx, protocol.CmdNextInto)
	case "over":
		r.step(ctx, protocol.CmdNextOver)
	case "out":
		r.step(ctx, protocol.CmdNextOut)
	case "continue":
		r.step(ctx, protocol.CmdCont)
	case "restart":
		r.session.Send(protocol.Command{Kind: protocol.CmdRestart, CircuitID: r.outerCircuit})
		fmt.Fprintln(r.out, "restarted")
	case "break":
		r.addBreakpoint(args)
	case "delete":
		r.deleteBreakpoint(args)
	case "breakpoints":
		r.listBreakpoints()
	case "opcodes":
		r.printOpcodes()
	case "witness":
		r.witness(args)
	case "memory":
		r.memory()
	case "memset":
		r.memset(args)
	case "stacktrace":
		r.stacktrace()
	case "vars":
		r.vars()
	case "quit", "exit":
		return true, r.exitCode()
	default:
		errorColor.Fprintf(r.out, "ERROR: unknown command %q\n", cmd)
	}
	return false, 0
}

// exitCode is 0 when the engine reports the outer circuit solved, 1
// otherwise.
func (r *REPL) exitCode() int {
	res, ok := r.session.Send(protocol.Command{Kind: protocol.CmdIsSolved})
	if ok && res.Bool {
		return 0
	}
	return 1
}

func (r *REPL) step(ctx context.Context, kind protocol.CommandKind) {
	res, ok := r.session.Send(protocol.Command{Kind: kind})
	if !ok {
		errorColor.Fprintln(r.out, "ERROR: session closed")
		return
	}
	if res.Kind == protocol.ResError {
		errorColor.Fprintf(r.out, "ERROR: %s\n", res.Err)
		return
	}
	step := res.Step
	switch step.Reason {
	case engine.ReasonBreakpoint:
		breakpointColor.Fprintf(r.out, "breakpoint reached at %s\n", step.Location)
	case engine.ReasonFailure:
		errorColor.Fprintf(r.out, "ERROR: %s\n", step.Failure)
	case engine.ReasonSolved:
		currentColor.Fprintf(r.out, "execution finished at %s\n", step.Location)
	default:
		currentColor.Fprintf(r.out, "-> %s\n", step.Location)
	}
}

func (r *REPL) addBreakpoint(args []string) {
	if len(args) != 1 {
		errorColor.Fprintln(r.out, "ERROR: break requires a <line> or <debug-loc>")
		return
	}
	loc, err := r.resolveLocArg(args[0])
	if err != nil {
		errorColor.Fprintf(r.out, "ERROR: %s\n", err)
		return
	}
	res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdAddBreakpoint, Breakpoint: loc})
	if res.Kind == protocol.ResError {
		errorColor.Fprintf(r.out, "ERROR: %s\n", res.Err)
		return
	}
	fmt.Fprintf(r.out, "breakpoint set at %s\n", loc)
}

func (r *REPL) deleteBreakpoint(args []string) {
	if len(args) != 1 {
		errorColor.Fprintln(r.out, "ERROR: delete requires a <debug-loc>")
		return
	}
	loc, err := r.resolveLocArg(args[0])
	if err != nil {
		errorColor.Fprintf(r.out, "ERROR: %s\n", err)
		return
	}
	r.session.Send(protocol.Command{Kind: protocol.CmdDeleteBreakpoint, Breakpoint: loc})
	fmt.Fprintf(r.out, "breakpoint deleted at %s\n", loc)
}

// listBreakpoints prints the breakpoint set in the stable, deterministic
// order internal/engine.ListBreakpoints sorts it into, so the listing is
// identical across runs of the same program.
func (r *REPL) listBreakpoints() {
	res, ok := r.session.Send(protocol.Command{Kind: protocol.CmdListBreakpoints})
	if !ok || res.Kind == protocol.ResError {
		errorColor.Fprintln(r.out, "ERROR: could not list breakpoints")
		return
	}
	if len(res.Stack) == 0 {
		fmt.Fprintln(r.out, "no breakpoints set")
		return
	}
	for _, loc := range res.Stack {
		fmt.Fprintf(r.out, "%s\n", loc)
	}
}

func (r *REPL) printOpcodes() {
	cur, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetCurrentDebugLocation})
	res, ok := r.session.Send(protocol.Command{Kind: protocol.CmdGetOpcodesOfCircuit, CircuitID: cur.Location.CircuitID})
	if !ok || res.Kind == protocol.ResError {
		errorColor.Fprintln(r.out, "ERROR: could not list opcodes")
		return
	}
	for i, op := range res.Opcodes {
		marker := "  "
		loc := acir.DebugLocation{CircuitID: cur.Location.CircuitID, Loc: acir.OpcodeLocation{AcirIndex: uint32(i)}}
		if i == int(cur.Location.Loc.AcirIndex) {
			marker = "=>"
		}
		fmt.Fprintf(r.out, "%s %s %s\n", marker, loc, opcodeSummary(op))
	}
}

func opcodeSummary(op acir.Opcode) string {
	switch op.Kind {
	case acir.OpAssertZero:
		return "assert_zero"
	case acir.OpBrilligCall:
		return fmt.Sprintf("brillig_call fn=%d", op.BrilligCall.FunctionID)
	case acir.OpCall:
		return fmt.Sprintf("call circuit=%d", op.Call.CircuitID)
	default:
		return "?"
	}
}

func (r *REPL) witness(args []string) {
	switch len(args) {
	case 0:
		res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetWitnessMap})
		keys := make([]acir.Witness, 0, len(res.Witness))
		for w := range res.Witness {
			keys = append(keys, w)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, w := range keys {
			fmt.Fprintf(r.out, "w%d = %s\n", w, res.Witness[w])
		}
	case 1:
		idx, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			errorColor.Fprintf(r.out, "ERROR: %s\n", err)
			return
		}
		res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetWitnessMap})
		v, ok := res.Witness[acir.Witness(idx)]
		if !ok {
			fmt.Fprintf(r.out, "w%d is unassigned\n", idx)
			return
		}
		fmt.Fprintf(r.out, "w%d = %s\n", idx, v)
	case 2:
		idx, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			errorColor.Fprintf(r.out, "ERROR: %s\n", err)
			return
		}
		f, err := field.FromHex(args[1])
		if err != nil {
			errorColor.Fprintf(r.out, "ERROR: %s\n", err)
			return
		}
		res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdOverwriteWitness, Witness: acir.Witness(idx), WitnessValue: f})
		fmt.Fprintf(r.out, "w%d: %s -> %s\n", idx, res.PrevWitness, f)
	default:
		errorColor.Fprintln(r.out, "ERROR: witness takes 0, 1 or 2 arguments")
	}
}

func (r *REPL) memory() {
	res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetBrilligMemory})
	if res.Memory == nil {
		fmt.Fprintln(r.out, "not executing brillig")
		return
	}
	for addr, cell := range res.Memory {
		fmt.Fprintf(r.out, "m[%d] = %s (bits=%d)\n", addr, cell.Value, cell.BitSize)
	}
}

func (r *REPL) memset(args []string) {
	if len(args) != 3 {
		errorColor.Fprintln(r.out, "ERROR: memset requires <i> <value> <bit_size>")
		return
	}
	addr, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		errorColor.Fprintf(r.out, "ERROR: %s\n", err)
		return
	}
	f, err := field.FromHex(args[1])
	if err != nil {
		errorColor.Fprintf(r.out, "ERROR: %s\n", err)
		return
	}
	bits, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		errorColor.Fprintf(r.out, "ERROR: %s\n", err)
		return
	}
	r.session.Send(protocol.Command{Kind: protocol.CmdWriteBrilligMemory, BrilligAddr: asm.Addr(addr), BrilligValue: f, BrilligBitSize: asm.BitSize(bits)})
	fmt.Fprintln(r.out, "ok")
}

func (r *REPL) stacktrace() {
	res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetCallStack})
	for i, loc := range res.Stack {
		fmt.Fprintf(r.out, "#%d %s\n", i, loc)
	}
	cur, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetCurrentDebugLocation})
	currentColor.Fprintf(r.out, "#%d %s (current)\n", len(res.Stack), cur.Location)
}

func (r *REPL) vars() {
	res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetVariables})
	for _, frame := range res.Vars {
		fmt.Fprintf(r.out, "%s(%s):\n", frame.FnName, strings.Join(frame.Params, ", "))
		for _, v := range frame.Vars {
			fmt.Fprintf(r.out, "  %s = %s\n", v.Name, ptype.Format(v.Value, v.Type))
		}
	}
}

// resolveLocArg accepts either a bare source line number (resolved
// against the engine's current circuit via
// find_opcode_at_current_file_line) or a fully qualified debug-location
// textual form, per spec.md §6's `break <line>|<debug-loc>`.
func (r *REPL) resolveLocArg(s string) (acir.DebugLocation, error) {
	if line, err := strconv.Atoi(s); err == nil {
		cur, _ := r.session.Send(protocol.Command{Kind: protocol.CmdGetCurrentDebugLocation})
		res, _ := r.session.Send(protocol.Command{Kind: protocol.CmdFindOpcodeAtCurrentFileLine, CircuitID: cur.Location.CircuitID, Line: line})
		if !res.OpLocOK {
			return acir.DebugLocation{}, fmt.Errorf("no opcode maps to line %d", line)
		}
		return acir.DebugLocation{CircuitID: cur.Location.CircuitID, Loc: res.OpLoc}, nil
	}
	return acir.ParseDebugLocation(s)
}
