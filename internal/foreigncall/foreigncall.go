// Package foreigncall implements the oracle/foreign-call executor (spec
// component D): it dispatches the debug foreign calls
// internal/instrument inserted (var_assign, var_drop, member_assign,
// member_assign_placeholder, dereference_assign) to internal/vars, and
// handles print/println with a built-in handler, and forwards every other
// foreign call name to an external resolver — a configured JSON-RPC oracle
// endpoint. With no resolver configured, those other names fail.
//
// Grounded on original_source/tooling/debugger/src/debug.rs's
// DebugForeignCallExecutor, which wraps a program's normal foreign-call
// executor and intercepts exactly this set of names before delegating.
package foreigncall

import (
	"context"
	"fmt"
	"net"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"

	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/ptype"
	"github.com/mna/acirdbg/internal/vars"
)

// Call is a single foreign-call invocation: a name plus its field-element
// arguments, exactly as the running program presents it.
type Call struct {
	Name string
	Args []field.Element
}

// Result is what the executor returns to the caller (internal/acir or
// internal/brillig/vm) once a call has been handled.
type Result struct {
	Outputs []field.Element
}

// Resolver forwards a non-debug foreign call to an out-of-process oracle,
// such as the `oracleResolver` URL from a DAP launch request.
type Resolver interface {
	Resolve(ctx context.Context, call Call) (Result, error)
}

// Executor is component D. It owns the variable store the debug foreign
// calls mutate, and an optional Resolver for everything else.
type Executor struct {
	store    *vars.Store
	resolver Resolver

	// typeOf resolves a var_id to the ptype.Type assign/assign_field should
	// decode against. Supplied by the caller of New (internal/maincmd
	// passes the variable store's TypeOf).
	typeOf func(varID uint32) (*ptype.Type, bool)
}

// New returns an executor bound to store, with no external resolver: any
// call other than the debug calls and print/println returns an error
// until SetResolver is called.
func New(store *vars.Store, typeOf func(varID uint32) (*ptype.Type, bool)) *Executor {
	return &Executor{store: store, typeOf: typeOf}
}

// SetResolver installs an out-of-process oracle resolver, such as one
// backed by a jrpc2.Client dialed to a DAP launch request's oracleResolver
// URL.
func (e *Executor) SetResolver(r Resolver) { e.resolver = r }

// Execute dispatches call: debug names go to the variable store,
// print/println to the built-in handler, and every other name to the
// configured resolver (or an error if none is set).
func (e *Executor) Execute(ctx context.Context, call Call) (Result, error) {
	switch call.Name {
	case "var_assign":
		return e.varAssign(call)
	case "var_drop":
		return e.varDrop(call)
	case "member_assign":
		return e.memberAssign(call, false)
	case "member_assign_placeholder":
		return e.memberAssign(call, true)
	case "dereference_assign":
		return Result{}, e.store.AssignDeref(toVarID(call.Args[0]), call.Args[1:])
	case "print", "println":
		return e.print(call, call.Name == "println")
	default:
		if e.resolver != nil {
			return e.resolver.Resolve(ctx, call)
		}
		return Result{}, fmt.Errorf("foreigncall: unresolved foreign call %q with no oracle resolver configured", call.Name)
	}
}

func (e *Executor) varAssign(call Call) (Result, error) {
	if len(call.Args) < 1 {
		return Result{}, fmt.Errorf("foreigncall: var_assign requires at least a var_id argument")
	}
	id := toVarID(call.Args[0])
	e.store.Assign(id, call.Args[1:])
	return Result{}, nil
}

func (e *Executor) varDrop(call Call) (Result, error) {
	if len(call.Args) < 1 {
		return Result{}, fmt.Errorf("foreigncall: var_drop requires a var_id argument")
	}
	e.store.Drop(toVarID(call.Args[0]))
	return Result{}, nil
}

// memberAssign decodes the on-wire shape spec.md §4.C documents:
// `member_assign` is `(var_id, indexes_vec, value…)`, while
// `member_assign_placeholder` additionally carries a parallel
// `field_names_vec` right after indexes_vec: `(var_id, indexes_vec,
// field_names_vec, value…)`. Each *_vec is itself length-prefixed. Which
// step lands on a struct field, a tuple position or an array index is
// decided by internal/vars from the value's live type, not from this
// wire payload — this decoder only splits the flat argument list into
// (indexes, names, value) and hands them to Store.AssignField.
func (e *Executor) memberAssign(call Call, placeholder bool) (Result, error) {
	if len(call.Args) < 2 {
		return Result{}, fmt.Errorf("foreigncall: member_assign requires a var_id and an index count")
	}
	id := toVarID(call.Args[0])
	rest := call.Args[1:]

	indexes, rest, err := decodeVec(rest, "index")
	if err != nil {
		return Result{}, err
	}

	var names []string
	if placeholder {
		var nameElems []field.Element
		nameElems, rest, err = decodeVec(rest, "field name")
		if err != nil {
			return Result{}, err
		}
		if len(nameElems) != len(indexes) {
			return Result{}, fmt.Errorf("foreigncall: member_assign_placeholder index count %d does not match field name count %d", len(indexes), len(nameElems))
		}
		names = make([]string, len(nameElems))
		for i, f := range nameElems {
			names[i] = fieldToName(f)
		}
	}

	idxs := make([]uint32, len(indexes))
	for i, f := range indexes {
		idxs[i] = uint32(f.ToUint64())
	}

	e.store.AssignField(id, idxs, names, rest)
	return Result{}, nil
}

// decodeVec splits a length-prefixed vector (one field element giving
// the count, followed by that many elements) off the front of args.
func decodeVec(args []field.Element, what string) (vec []field.Element, rest []field.Element, err error) {
	if len(args) < 1 {
		return nil, nil, fmt.Errorf("foreigncall: member_assign missing %s count", what)
	}
	n := int(args[0].ToUint64())
	if len(args)-1 < n {
		return nil, nil, fmt.Errorf("foreigncall: member_assign %s vector truncated", what)
	}
	return args[1 : 1+n], args[1+n:], nil
}

// fieldToName recovers a short diagnostic string packed into a single
// field element (field.FromBytes's encoding): the field's fixed-width
// big-endian byte representation with its leading zero padding
// stripped.
func fieldToName(f field.Element) string {
	b := f.Bytes()
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return string(b[i:])
}

// print implements the built-in print/println foreign-call handler. It
// has no type information: it prints every argument as a raw field
// value, in one bracketed list, and does not decode format strings.
func (e *Executor) print(call Call, newline bool) (Result, error) {
	parts := make([]string, len(call.Args))
	for i, f := range call.Args {
		parts[i] = f.String()
	}
	line := fmt.Sprint(parts)
	if newline {
		line += "\n"
	}
	fmt.Print(line)
	return Result{}, nil
}

func toVarID(f field.Element) uint32 {
	return uint32(f.ToUint64())
}

// jrpc2Resolver forwards unresolved foreign calls to an out-of-process
// JSON-RPC oracle, as used by the `oracleResolver` DAP launch argument.
type jrpc2Resolver struct {
	client *jrpc2.Client
}

// NewJRPC2Resolver wraps an already-dialed jrpc2 client as a Resolver.
func NewJRPC2Resolver(client *jrpc2.Client) Resolver {
	return &jrpc2Resolver{client: client}
}

// oracleRequest/oracleResponse mirror the wire shape Nargo's own oracle
// protocol uses: hex-encoded field elements, one RPC method per foreign
// call name.
type oracleRequest struct {
	Inputs [][]string `json:"inputs"`
}

type oracleResponse struct {
	Values []string `json:"values"`
}

func (r *jrpc2Resolver) Resolve(ctx context.Context, call Call) (Result, error) {
	req := oracleRequest{Inputs: make([][]string, len(call.Args))}
	for i, a := range call.Args {
		req.Inputs[i] = []string{a.Hex()}
	}

	var resp oracleResponse
	if err := r.client.CallResult(ctx, call.Name, req, &resp); err != nil {
		return Result{}, fmt.Errorf("foreigncall: oracle call %q failed: %w", call.Name, err)
	}

	outputs := make([]field.Element, len(resp.Values))
	for i, v := range resp.Values {
		f, err := field.FromHex(v)
		if err != nil {
			return Result{}, fmt.Errorf("foreigncall: oracle call %q returned malformed value %q: %w", call.Name, v, err)
		}
		outputs[i] = f
	}
	return Result{Outputs: outputs}, nil
}

// DialJRPC2 dials address (a "host:port" TCP endpoint) and wraps the
// connection as a Resolver speaking newline-delimited JSON-RPC, the
// transport jrpc2's channel.Line helper implements. The caller is
// responsible for closing the returned client once the debug session
// ends.
func DialJRPC2(ctx context.Context, address string) (Resolver, *jrpc2.Client, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("foreigncall: dialing oracle resolver %q: %w", address, err)
	}
	ch := channel.Line(conn, conn)
	client := jrpc2.NewClient(ch, nil)
	return NewJRPC2Resolver(client), client, nil
}
