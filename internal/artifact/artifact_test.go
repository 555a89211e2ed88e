package artifact_test

import (
	"testing"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/artifact"
	"github.com/mna/acirdbg/lang/token"
	"github.com/stretchr/testify/require"
)

func TestBuilderAddOpcodeSpansAndLookup(t *testing.T) {
	fset := token.NewFileSet()
	b := artifact.NewBuilder(fset)
	b.AddFile(0, "main.nr", "fn main() {}\n")

	loc := acir.OpcodeLocation{AcirIndex: 3}
	spans := []artifact.Span{{FileID: 0, StartLine: 2, StartCol: 1, EndLine: 2, EndCol: 10}}
	b.AddOpcodeSpans(1, loc, spans)

	a := b.Build()

	got, ok := a.OpcodeLocation(1, loc)
	require.True(t, ok)
	require.Equal(t, spans, got)

	_, ok = a.OpcodeLocation(1, acir.OpcodeLocation{AcirIndex: 99})
	require.False(t, ok)

	f, ok := a.File(0)
	require.True(t, ok)
	require.Equal(t, "main.nr", f.Path)
}

func TestFindOpcodeAtLineFirstInProgramOrder(t *testing.T) {
	fset := token.NewFileSet()
	b := artifact.NewBuilder(fset)
	b.AddFile(0, "main.nr", "")

	first := acir.OpcodeLocation{AcirIndex: 0}
	second := acir.OpcodeLocation{AcirIndex: 1}
	b.AddOpcodeSpans(1, first, []artifact.Span{{FileID: 0, StartLine: 5}})
	b.AddOpcodeSpans(1, second, []artifact.Span{{FileID: 0, StartLine: 5}})

	a := b.Build()
	loc, ok := a.FindOpcodeAtLine(0, 5)
	require.True(t, ok)
	require.Equal(t, first, loc)

	_, ok = a.FindOpcodeAtLine(0, 6)
	require.False(t, ok)
}

func TestSourceSpansForAndSourceKey(t *testing.T) {
	fset := token.NewFileSet()
	b := artifact.NewBuilder(fset)
	loc := acir.OpcodeLocation{AcirIndex: 0}
	b.AddOpcodeSpans(1, loc, []artifact.Span{{FileID: 0, StartLine: 7, StartCol: 2, EndLine: 7, EndCol: 8}})
	a := b.Build()

	dl := acir.DebugLocation{CircuitID: 1, Loc: loc}
	spans, ok := a.SourceSpansFor(dl)
	require.True(t, ok)
	require.Len(t, spans, 1)
	require.Equal(t, 7, spans[0].StartLine)

	key, ok := a.SourceKey(dl)
	require.True(t, ok)
	require.Equal(t, "0:7", key)

	unmapped := acir.DebugLocation{CircuitID: 1, Loc: acir.OpcodeLocation{AcirIndex: 42}}
	_, ok = a.SourceKey(unmapped)
	require.False(t, ok)
}
