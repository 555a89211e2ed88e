package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/mna/acirdbg/lang/ast"
	"github.com/mna/acirdbg/lang/parser"
	"github.com/mna/acirdbg/lang/resolver"
	"github.com/mna/acirdbg/lang/scanner"
	"github.com/mna/acirdbg/lang/token"
)

// Universe holds the predeclared identifiers of the small front-end
// language the source instrumenter operates on: the foreign-call names
// internal/instrument and internal/foreigncall recognize as builtins,
// rather than a general-purpose scripting language's standard library.
var Universe = map[string]bool{
	"print":   true,
	"println": true,
}

// IsUniversal reports whether name is a predeclared universe identifier,
// the lang/resolver.Resolve predicate fed to every ResolveFiles call.
func IsUniversal(name string) bool { return Universe[name] }

// TokenizeFiles scans files and writes one line per token to stdio.Stdout,
// in the teacher's own tokenize-command format. Kept as test-support
// infrastructure exercising lang/scanner end-to-end; not wired to a CLI
// subcommand since this repository's front-end exists to drive
// internal/instrument, not to serve a standalone tokenizer.
func TokenizeFiles(ctx context.Context, stdio mainer.Stdio, posMode token.PosMode, files ...string) error {
	fs, toksByFile, err := scanner.ScanFiles(ctx, files...)
	for _, toks := range toksByFile {
		for _, tok := range toks {
			fmt.Fprintf(stdio.Stdout, "%s: %s", token.FormatPos(posMode, fs.File(tok.Value.Pos), tok.Value.Pos, true), tok.Token)
			if lit := tok.Token.Literal(tok.Value); lit != "" {
				fmt.Fprintf(stdio.Stdout, " %s", lit)
			}
			fmt.Fprintln(stdio.Stdout)
		}
	}
	if err != nil {
		scanner.PrintError(stdio.Stderr, err)
	}
	return err
}

// ParseFiles parses files and prints the resulting AST to stdio.Stdout.
// Test-support infrastructure exercising lang/parser end-to-end.
func ParseFiles(ctx context.Context, stdio mainer.Stdio, parseMode parser.Mode, posMode token.PosMode, nodeFmt string, files ...string) error {
	printer := ast.Printer{Output: stdio.Stdout, Pos: posMode, NodeFmt: nodeFmt}
	fs, chunks, err := parser.ParseFiles(ctx, parseMode, files...)
	for _, ch := range chunks {
		start, _ := ch.Span()
		file := fs.File(start)
		if perr := printer.Print(ch, file); perr != nil {
			fmt.Fprintln(stdio.Stderr, perr)
			return perr
		}
	}
	if err != nil {
		scanner.PrintError(stdio.Stderr, err)
	}
	return err
}

// ResolveFiles parses and resolves files, printing the annotated AST to
// stdio.Stdout. Test-support infrastructure exercising lang/resolver end
// to end. internal/instrument does not use this pass: it keeps its own
// scope stack while allocating var_ids.
func ResolveFiles(ctx context.Context, stdio mainer.Stdio, parseMode parser.Mode,
	resolveMode resolver.Mode, posMode token.PosMode, nodeFmt string, files ...string) error {
	printer := ast.Printer{Output: stdio.Stdout, Pos: posMode, NodeFmt: nodeFmt}
	fs, chunks, perr := parser.ParseFiles(ctx, parseMode, files...)
	if perr != nil {
		scanner.PrintError(stdio.Stderr, perr)
		return perr
	}

	rerr := resolver.ResolveFiles(ctx, fs, chunks, resolveMode, nil, IsUniversal)
	for _, ch := range chunks {
		start, _ := ch.Span()
		file := fs.File(start)
		if err := printer.Print(ch, file); err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			return err
		}
	}
	if rerr != nil {
		scanner.PrintError(stdio.Stderr, rerr)
	}
	return rerr
}
