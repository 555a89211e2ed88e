package instrument_test

import (
	"context"
	"testing"

	"github.com/mna/acirdbg/internal/field"
	"github.com/mna/acirdbg/internal/foreigncall"
	"github.com/mna/acirdbg/internal/instrument"
	"github.com/mna/acirdbg/internal/ptype"
	"github.com/mna/acirdbg/internal/vars"
	"github.com/mna/acirdbg/lang/ast"
	"github.com/mna/acirdbg/lang/parser"
	"github.com/mna/acirdbg/lang/token"
	"github.com/stretchr/testify/require"
)

const source = `let x = 1
function f(a)
let y = a
return y
end
`

func parseChunk(t *testing.T) *ast.Chunk {
	t.Helper()
	fset := token.NewFileSet()
	chunk, err := parser.ParseChunk(context.Background(), 0, fset, "test.nen", []byte(source))
	require.NoError(t, err)
	return chunk
}

func TestChunkAssignsStableVarIDs(t *testing.T) {
	chunk := parseChunk(t)

	in := instrument.New()
	symbols := in.Chunk(chunk)

	require.Equal(t, map[uint32]string{
		0: "x",
		1: "a",
		2: "y",
		3: "__debug_expr",
	}, symbols.IDToName)
}

func TestChunkInsertsVarAssignAndDropCalls(t *testing.T) {
	chunk := parseChunk(t)

	in := instrument.New()
	in.Chunk(chunk)

	// top level: the original let-stmt, its var_assign, the rewritten
	// function, plus the 5 oracle declarations appended once at the end.
	require.Len(t, chunk.Block.Stmts, 8)

	letStmt, ok := chunk.Block.Stmts[0].(*ast.AssignStmt)
	require.True(t, ok)
	require.Equal(t, "x", letStmt.Left[0].(*ast.IdentExpr).Lit)

	assignX := requireCall(t, chunk.Block.Stmts[1], instrument.FnVarAssign)
	require.Equal(t, "x", assignX.Args[1].(*ast.IdentExpr).Lit)

	fn, ok := chunk.Block.Stmts[2].(*ast.FuncStmt)
	require.True(t, ok)

	// function body: var_assign(a) entry, the original let-stmt, its
	// var_assign, the synthetic __debug_expr bind and its var_assign, three
	// var_drop calls (x, a and y — the drop walk covers every live scope,
	// including the chunk's outer one, not just the function's own locals),
	// and the rewritten return.
	require.Len(t, fn.Body.Stmts, 9)

	assignA := requireCall(t, fn.Body.Stmts[0], instrument.FnVarAssign)
	require.Equal(t, "a", assignA.Args[1].(*ast.IdentExpr).Lit)

	assignY := requireCall(t, fn.Body.Stmts[2], instrument.FnVarAssign)
	require.Equal(t, "y", assignY.Args[1].(*ast.IdentExpr).Lit)

	bind, ok := fn.Body.Stmts[3].(*ast.AssignStmt)
	require.True(t, ok)
	require.Equal(t, "__debug_expr", bind.Left[0].(*ast.IdentExpr).Lit)
	require.Equal(t, "y", bind.Right[0].(*ast.IdentExpr).Lit)

	assignDebugExpr := requireCall(t, fn.Body.Stmts[4], instrument.FnVarAssign)
	require.Equal(t, "__debug_expr", assignDebugExpr.Args[1].(*ast.IdentExpr).Lit)

	names := map[uint32]string{0: "x", 1: "a", 2: "y", 3: "__debug_expr"}
	dropped := map[string]bool{}
	for _, stmt := range fn.Body.Stmts[5:8] {
		call := requireCall(t, stmt, instrument.FnVarDrop)
		id := uint32(call.Args[0].(*ast.LiteralExpr).Value.(int64))
		dropped[names[id]] = true
	}
	require.Equal(t, map[string]bool{"x": true, "a": true, "y": true}, dropped)

	ret, ok := fn.Body.Stmts[8].(*ast.ReturnLikeStmt)
	require.True(t, ok)
	require.Equal(t, "__debug_expr", ret.Expr.(*ast.IdentExpr).Lit)

	for _, name := range []string{
		instrument.FnVarAssign, instrument.FnVarDrop, instrument.FnMemberAssign,
		instrument.FnMemberAssignPlaceholder, instrument.FnDereferenceAssign,
	} {
		found := false
		for _, stmt := range chunk.Block.Stmts[3:] {
			if decl, ok := stmt.(*ast.FuncStmt); ok && decl.Name.Lit == name {
				found = true
			}
		}
		require.True(t, found, "missing oracle declaration for %s", name)
	}
}

// TestArrayIndexAssignDrivesExecutorEndToEnd rewrites an array-index
// assignment, reads the wire shape the instrumenter produced straight off
// the synthetic call's AST arguments (standing in for the compiler
// lowering pass this repository doesn't itself perform), replays it
// through internal/foreigncall's executor exactly as the running program
// would, and checks internal/vars ends up holding the new element —
// closing the gap a check against oracle-declaration names alone leaves
// open.
func TestArrayIndexAssignDrivesExecutorEndToEnd(t *testing.T) {
	fset := token.NewFileSet()
	src := "let arr = [1, 2, 3]\narr[1] = 9\n"
	chunk, err := parser.ParseChunk(context.Background(), 0, fset, "test.nen", []byte(src))
	require.NoError(t, err)

	in := instrument.New()
	in.Chunk(chunk)

	bind, ok := chunk.Block.Stmts[3].(*ast.AssignStmt)
	require.True(t, ok)
	require.Equal(t, "__debug_expr", bind.Left[0].(*ast.IdentExpr).Lit)

	call := requireCall(t, chunk.Block.Stmts[4], instrument.FnMemberAssign)
	require.Len(t, call.Args, 4)
	rootID := uint32(call.Args[0].(*ast.LiteralExpr).Value.(int64))
	pathLen := call.Args[1].(*ast.LiteralExpr).Value.(int64)
	require.EqualValues(t, 1, pathLen)
	index := call.Args[2].(*ast.LiteralExpr).Value.(int64)
	require.EqualValues(t, 1, index)
	require.Equal(t, "__debug_expr", call.Args[3].(*ast.IdentExpr).Lit)

	arrType := ptype.Array(uint64Ptr(3), ptype.Field())
	store := vars.New()
	store.InsertVariables(map[uint32]struct {
		Name   string
		TypeID uint32
	}{rootID: {Name: "arr", TypeID: 0}})
	store.InsertTypes(map[uint32]*ptype.Type{0: arrType})
	store.PushFn("main", nil)
	store.Assign(rootID, []field.Element{field.FromUint64(1), field.FromUint64(2), field.FromUint64(3)})

	exec := foreigncall.New(store, store.TypeOf)
	wireArgs := []field.Element{
		field.FromUint64(uint64(rootID)),
		field.FromUint64(uint64(pathLen)),
		field.FromUint64(uint64(index)),
		field.FromUint64(9),
	}
	_, err = exec.Execute(context.Background(), foreigncall.Call{Name: call.Fn.(*ast.IdentExpr).Lit, Args: wireArgs})
	require.NoError(t, err)

	val, ok := store.Get(rootID)
	require.True(t, ok)
	require.Equal(t, "[1, 9, 3]", ptype.Format(val, arrType))
}

func uint64Ptr(n uint64) *uint64 { return &n }

func requireCall(t *testing.T, stmt ast.Stmt, wantFn string) *ast.CallExpr {
	t.Helper()
	es, ok := stmt.(*ast.ExprStmt)
	require.True(t, ok)
	call, ok := es.Expr.(*ast.CallExpr)
	require.True(t, ok)
	require.Equal(t, wantFn, call.Fn.(*ast.IdentExpr).Lit)
	return call
}
