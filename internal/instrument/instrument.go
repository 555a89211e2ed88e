// Package instrument implements the source instrumenter (spec component C):
// an AST rewrite pass that allocates a stable variable id for every binding
// a program introduces and inserts the calls the debug foreign-call
// executor needs to keep internal/vars in sync with the running program —
// var_assign on every let-binding, assignment and function parameter,
// member_assign on nested lvalues, and a synthetic __debug_expr capture on
// every function return. var_drop is emitted only for for-in induction
// variables (at the end of every iteration) and for the live variables
// dropped before a return; leaving any other scope emits no var_drop.
//
// It is grounded on original_source's noirc_frontend/src/debug/mod.rs
// (DebugState), adapted to lang/ast's node shapes: this package inserts
// synthetic lang/ast.CallExpr/ExprStmt nodes directly into lang/ast.Block
// statement lists rather than rewriting a separate HIR.
package instrument

import (
	"strconv"

	"github.com/mna/acirdbg/lang/ast"
	"github.com/mna/acirdbg/lang/token"
)

// Foreign-call names recognised by internal/foreigncall. Kept as untyped
// string constants, not an enum, because they travel as plain identifiers
// through the AST and eventually as plain strings over the oracle wire
// protocol.
const (
	FnVarAssign              = "var_assign"
	FnVarDrop                = "var_drop"
	FnMemberAssign           = "member_assign"
	FnMemberAssignPlaceholder = "member_assign_placeholder"
	FnDereferenceAssign      = "dereference_assign"

	debugExprName = "__debug_expr"
)

// Symbols is the var_id -> name table the instrumenter builds while
// rewriting. Ids are allocated depth-first, left to right, starting at 0,
// and are stable across recompilation of the same source because
// allocation order depends only on the AST shape, not on any prior run.
type Symbols struct {
	IDToName map[uint32]string
}

// Instrumenter rewrites a parsed chunk in place, allocating variable ids as
// it goes.
type Instrumenter struct {
	nextID  uint32
	symbols *Symbols
	scopes  []map[string]uint32 // one entry per lexical scope, innermost last
}

// New returns a ready-to-use Instrumenter.
func New() *Instrumenter {
	return &Instrumenter{symbols: &Symbols{IDToName: make(map[uint32]string)}}
}

// Symbols returns the id->name table accumulated so far. Valid to call
// after Chunk returns.
func (in *Instrumenter) Symbols() *Symbols { return in.symbols }

func (in *Instrumenter) pushScope() { in.scopes = append(in.scopes, make(map[string]uint32)) }
func (in *Instrumenter) popScope()  { in.scopes = in.scopes[:len(in.scopes)-1] }

// allocate assigns a fresh var_id to name in the innermost scope.
func (in *Instrumenter) allocate(name string) uint32 {
	id := in.nextID
	in.nextID++
	in.symbols.IDToName[id] = name
	in.scopes[len(in.scopes)-1][name] = id
	return id
}

// lookup finds name's var_id, searching from the innermost scope outward.
func (in *Instrumenter) lookup(name string) (uint32, bool) {
	for i := len(in.scopes) - 1; i >= 0; i-- {
		if id, ok := in.scopes[i][name]; ok {
			return id, true
		}
	}
	return 0, false
}

// Chunk instruments every function declared at the top level of c. Oracle
// function declarations (var_assign and friends) are appended to c.Block
// only after the whole chunk has been walked, so the instrumenter never
// walks into — and recursively instruments — its own scaffolding.
func (in *Instrumenter) Chunk(c *ast.Chunk) *Symbols {
	in.pushScope()
	c.Block.Stmts = in.walkStmts(c.Block.Stmts)
	in.popScope()

	c.Block.Stmts = append(c.Block.Stmts, oracleDecls()...)
	return in.symbols
}

// walkStmts rewrites a statement list, splicing in each statement's
// replacement. It adds no drops at the end of the list.
func (in *Instrumenter) walkStmts(stmts []ast.Stmt) []ast.Stmt {
	var out []ast.Stmt
	before := len(in.scopes[len(in.scopes)-1])
	_ = before

	for _, stmt := range stmts {
		out = append(out, in.walkStmt(stmt)...)
	}
	return out
}

// walkStmt rewrites a single statement, returning the (possibly several)
// replacement statements to splice in its place.
func (in *Instrumenter) walkStmt(stmt ast.Stmt) []ast.Stmt {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		return in.walkAssign(s)

	case *ast.ForLoopStmt:
		return in.walkForLoop(s)

	case *ast.ForInStmt:
		return in.walkForIn(s)

	case *ast.FuncStmt:
		in.walkFunc(s.Name.Lit, s.Sig, s.Body)
		return []ast.Stmt{s}

	case *ast.ClassStmt:
		for _, method := range s.Body.Methods {
			in.walkFunc(method.Name.Lit, method.Sig, method.Body)
		}
		return []ast.Stmt{s}

	case *ast.IfGuardStmt:
		if s.True != nil {
			in.pushScope()
			s.True.Stmts = in.walkStmts(s.True.Stmts)
			in.popScope()
		}
		if s.False != nil {
			in.pushScope()
			s.False.Stmts = in.walkStmts(s.False.Stmts)
			in.popScope()
		}
		return []ast.Stmt{s}

	case *ast.SimpleBlockStmt:
		if s.Body != nil {
			in.pushScope()
			s.Body.Stmts = in.walkStmts(s.Body.Stmts)
			in.popScope()
		}
		return []ast.Stmt{s}

	case *ast.ReturnLikeStmt:
		return in.walkReturn(s)

	default:
		return []ast.Stmt{stmt}
	}
}

// walkAssign rewrites both let-bindings (DeclType != 0) and plain
// assignments. A flattened tuple/struct destructuring binds each leaf
// identifier to its own var_id, in left-to-right order, matching the order
// the pattern's identifiers appear in source.
func (in *Instrumenter) walkAssign(s *ast.AssignStmt) []ast.Stmt {
	out := []ast.Stmt{s}
	isDecl := s.DeclType != 0

	for _, lhs := range s.Left {
		switch target := ast.Unwrap(lhs).(type) {
		case *ast.IdentExpr:
			var id uint32
			if isDecl {
				id = in.allocate(target.Lit)
			} else if existing, ok := in.lookup(target.Lit); ok {
				id = existing
			} else {
				// Assignment to a name no enclosing scope of the instrumenter
				// binds (e.g. a free variable): still track it so vars stays in sync.
				id = in.allocate(target.Lit)
			}
			out = append(out, varAssignStmt(id, target.Lit))

		default:
			// Nested lvalue (field/index/deref chain): the path back to the
			// root identifier is resolved by walkLValuePath. The new value is
			// re-read off the lvalue itself (the real assignment s already ran,
			// so evaluating lhs again is cheap and side-effect free) and bound
			// to __debug_expr, exactly as a plain-identifier assignment reports
			// its own new value by referencing the identifier again.
			rootID, path, ok := in.walkLValuePath(lhs)
			if !ok {
				continue
			}
			bind := &ast.AssignStmt{
				DeclType:  token.IDENT,
				Left:      []ast.Expr{&ast.IdentExpr{Lit: debugExprName}},
				AssignTok: token.EQ,
				Right:     []ast.Expr{lhs},
			}
			out = append(out, bind, memberAssignStmt(rootID, path))
		}
	}
	return out
}

// PathStep is one step of a nested-assignment path down from its root
// identifier to the lvalue being assigned: FieldName for a struct-field
// step (e.g. ".field"), or Index for an array/tuple step (e.g. "[i]").
// Carried as AST arguments to the synthetic member_assign(_placeholder)
// call rather than as a Go value: the instrumenter has no type checker
// and cannot know at this point whether a given step is really a
// struct, tuple or array — internal/vars.splice decides that once the
// running program's debug symbols are available.
type PathStep struct {
	FieldName string // "" for array/tuple index steps
	Index     ast.Expr
}

// walkLValuePath walks a DotExpr/IndexExpr chain down to its root
// identifier, returning the root's var_id and the path of member/index
// steps from the root to the original lvalue (outermost first).
func (in *Instrumenter) walkLValuePath(lhs ast.Expr) (uint32, []PathStep, bool) {
	var steps []PathStep
	cur := lhs
	for {
		switch e := cur.(type) {
		case *ast.DotExpr:
			steps = append([]PathStep{{FieldName: e.Right.Lit}}, steps...)
			cur = ast.Unwrap(e.Left)
		case *ast.IndexExpr:
			steps = append([]PathStep{{Index: e.Index}}, steps...)
			cur = ast.Unwrap(e.Prefix)
		case *ast.IdentExpr:
			id, ok := in.lookup(e.Lit)
			if !ok {
				return 0, nil, false
			}
			return id, steps, true
		default:
			return 0, nil, false
		}
	}
}

// walkForLoop instruments a 1- or 3-clause for loop. Init and Post are
// walked through walkStmt, which allocates var_ids for any bindings they
// declare, but only the first resulting statement (the original one) is
// kept, so no var_assign is emitted for them. The body is walked in its
// own scope and gets no drops on exit.
func (in *Instrumenter) walkForLoop(s *ast.ForLoopStmt) []ast.Stmt {
	in.pushScope()
	if s.Init != nil {
		inner := in.walkStmt(s.Init)
		if len(inner) > 0 {
			s.Init = inner[0]
		}
	}
	if s.Post != nil {
		inner := in.walkStmt(s.Post)
		if len(inner) > 0 {
			s.Post = inner[0]
		}
	}
	s.Body.Stmts = in.walkStmts(s.Body.Stmts)
	in.popScope()
	return []ast.Stmt{s}
}

// walkForIn instruments a for-in loop: each induction variable is assigned
// on every iteration entry and dropped on every iteration exit, so its
// var_id's value always reflects the current element rather than the last
// one evaluated.
func (in *Instrumenter) walkForIn(s *ast.ForInStmt) []ast.Stmt {
	in.pushScope()
	var ids []uint32
	var names []string
	for _, lhs := range s.Left {
		if id, ok := ast.Unwrap(lhs).(*ast.IdentExpr); ok {
			vid := in.allocate(id.Lit)
			ids = append(ids, vid)
			names = append(names, id.Lit)
		}
	}

	entry := make([]ast.Stmt, 0, len(ids))
	exit := make([]ast.Stmt, 0, len(ids))
	for i, id := range ids {
		entry = append(entry, varAssignStmt(id, names[i]))
		exit = append(exit, varDropStmt(id))
	}

	s.Body.Stmts = in.walkStmts(s.Body.Stmts)
	s.Body.Stmts = append(append(append([]ast.Stmt{}, entry...), s.Body.Stmts...), exit...)
	in.popScope()
	return []ast.Stmt{s}
}

// walkFunc instruments a function body: every parameter gets a var_assign
// at function entry (prepended to the body), and the body's own statements
// are walked in a fresh scope.
func (in *Instrumenter) walkFunc(name string, sig *ast.FuncSignature, body *ast.Block) {
	in.pushScope()
	var entry []ast.Stmt
	for _, ident := range sig.Params {
		id := in.allocate(ident.Lit)
		entry = append(entry, varAssignStmt(id, ident.Lit))
	}
	body.Stmts = in.walkStmts(body.Stmts)
	body.Stmts = append(entry, body.Stmts...)
	in.popScope()
	_ = name
}

// walkReturn rewrites a bare "return expr" into a let-binding of expr to a
// synthetic __debug_expr, a drop of every variable live in the enclosing
// function, and a return of __debug_expr — so the debugger can report a
// function's result exactly once, after every local has already been
// reported as dropped. break/continue/goto are left untouched: they never
// carry a value and never leave the function.
func (in *Instrumenter) walkReturn(s *ast.ReturnLikeStmt) []ast.Stmt {
	if s.Type != token.RETURN || s.Expr == nil {
		return []ast.Stmt{s}
	}

	id := in.allocate(debugExprName)
	bind := &ast.AssignStmt{
		DeclType: token.IDENT,
		Left:     []ast.Expr{&ast.IdentExpr{Lit: debugExprName}},
		AssignTok: token.EQ,
		Right:    []ast.Expr{s.Expr},
	}
	assign := varAssignStmt(id, debugExprName)

	var drops []ast.Stmt
	for i := len(in.scopes) - 1; i >= 0; i-- {
		for name, vid := range in.scopes[i] {
			if name == debugExprName {
				continue
			}
			drops = append(drops, varDropStmt(vid))
		}
	}

	ret := &ast.ReturnLikeStmt{Type: token.RETURN, Start: s.Start, Expr: &ast.IdentExpr{Lit: debugExprName}}
	out := append([]ast.Stmt{bind, assign}, drops...)
	return append(out, ret)
}

// varAssignStmt builds "var_assign(id, name)" as an ExprStmt.
func varAssignStmt(id uint32, name string) *ast.ExprStmt {
	return &ast.ExprStmt{Expr: &ast.CallExpr{
		Fn:   &ast.IdentExpr{Lit: FnVarAssign},
		Args: []ast.Expr{intLit(id), &ast.IdentExpr{Lit: name}},
	}}
}

// varDropStmt builds "var_drop(id)" as an ExprStmt.
func varDropStmt(id uint32) *ast.ExprStmt {
	return &ast.ExprStmt{Expr: &ast.CallExpr{
		Fn:   &ast.IdentExpr{Lit: FnVarDrop},
		Args: []ast.Expr{intLit(id)},
	}}
}

// memberAssignStmt builds the oracle call for a nested-lvalue assignment,
// matching the wire shape spec.md §4.C/§4.D document: `member_assign` is
// `(var_id, indexes_vec, value)` when every step of the path is an
// array/tuple index; `member_assign_placeholder` additionally carries a
// parallel `field_names_vec` right after indexes_vec — `(var_id,
// indexes_vec, field_names_vec, value)` — used whenever the path crosses
// at least one struct field, whose real ordinal this syntax-only pass
// cannot know. Both *_vec arguments are length-prefixed (one literal int
// giving the count, followed by that many elements); a struct-field step
// contributes a placeholder 0 index (ignored, per spec.md §9's
// resolution of the MemberAccess open question) and its field name; an
// array/tuple step contributes its real index expression and an empty
// name.
func memberAssignStmt(rootID uint32, path []PathStep) *ast.ExprStmt {
	hasFieldStep := false
	for _, step := range path {
		if step.Index == nil {
			hasFieldStep = true
			break
		}
	}

	args := []ast.Expr{intLit(rootID), intLit(uint32(len(path)))}
	for _, step := range path {
		if step.Index != nil {
			args = append(args, step.Index)
		} else {
			args = append(args, intLit(0))
		}
	}

	fn := FnMemberAssign
	if hasFieldStep {
		fn = FnMemberAssignPlaceholder
		args = append(args, intLit(uint32(len(path))))
		for _, step := range path {
			args = append(args, &ast.LiteralExpr{Type: token.STRING, Value: step.FieldName, Raw: strconv.Quote(step.FieldName)})
		}
	}
	args = append(args, &ast.IdentExpr{Lit: debugExprName})

	return &ast.ExprStmt{Expr: &ast.CallExpr{
		Fn:   &ast.IdentExpr{Lit: fn},
		Args: args,
	}}
}

func intLit(n uint32) *ast.LiteralExpr {
	return &ast.LiteralExpr{Type: token.INT, Raw: strconv.FormatUint(uint64(n), 10), Value: int64(n)}
}

// oracleDecls returns the function declarations the debug foreign calls
// are dispatched through. They are appended once, after the whole chunk
// has already been instrumented, so they are never themselves walked.
func oracleDecls() []ast.Stmt {
	names := []string{FnVarAssign, FnVarDrop, FnMemberAssign, FnMemberAssignPlaceholder, FnDereferenceAssign}
	decls := make([]ast.Stmt, 0, len(names))
	for _, name := range names {
		decls = append(decls, &ast.FuncStmt{
			Name: &ast.IdentExpr{Lit: name},
			Sig:  &ast.FuncSignature{},
			Body: &ast.Block{},
		})
	}
	return decls
}
