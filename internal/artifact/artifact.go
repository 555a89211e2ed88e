// Package artifact implements the debug artifact model (spec component
// G): pure data produced by the compiler front-end and consumed
// read-only by the engine and front-ends — a per-circuit opcode-location
// to source-span map, plus a process-wide file map.
//
// It is built on lang/token.FileSet, the teacher's own source-position
// infrastructure, rather than inventing a parallel file/position model:
// a debug artifact's file map is exactly a FileSet's job description
// (stable file ids, byte offsets resolved back to line/column).
package artifact

import (
	"fmt"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/protocol"
	"github.com/mna/acirdbg/lang/token"
)

// Span is one source location an opcode maps back to. Inlining produces
// more than one span per opcode location (spec.md §3), outermost call
// site last.
type Span struct {
	FileID    uint32
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// File pairs a path with its full source text, as returned by the
// file(file_id) accessor.
type File struct {
	Path   string
	Source string
}

// circuitMap is one circuit's opcode_location → spans table.
type circuitMap struct {
	byLoc map[string][]Span
	// byLine accelerates find_opcode_at_current_file_line: (file_id, line)
	// -> the first opcode location (in program order) whose innermost span
	// starts on that line.
	byLine map[lineKey]acir.OpcodeLocation
}

type lineKey struct {
	fileID uint32
	line   int
}

// Artifact is component G: immutable once built, shared read-only by the
// engine (via the protocol.SourceLocator it satisfies) and any number of
// front-ends.
type Artifact struct {
	fset     *token.FileSet
	files    map[uint32]File
	circuits map[uint32]*circuitMap
}

// Builder assembles an Artifact incrementally, mirroring how a compiler
// front-end would populate it circuit by circuit as it lowers each
// function.
type Builder struct {
	fset     *token.FileSet
	files    map[uint32]File
	circuits map[uint32]*circuitMap
}

// NewBuilder returns an empty builder backed by fset (shared with
// lang/parser's own file registration, so source spans recorded by the
// instrumenter's front-end and by this artifact agree on file ids).
func NewBuilder(fset *token.FileSet) *Builder {
	return &Builder{
		fset:     fset,
		files:    make(map[uint32]File),
		circuits: make(map[uint32]*circuitMap),
	}
}

// AddFile registers a source file under id, process-wide unique.
func (b *Builder) AddFile(id uint32, path, source string) {
	b.files[id] = File{Path: path, Source: source}
}

// AddOpcodeSpans records the (possibly multiple, for inlining) source
// spans a given circuit's opcode location maps back to.
func (b *Builder) AddOpcodeSpans(circuitID uint32, loc acir.OpcodeLocation, spans []Span) {
	cm, ok := b.circuits[circuitID]
	if !ok {
		cm = &circuitMap{byLoc: make(map[string][]Span), byLine: make(map[lineKey]acir.OpcodeLocation)}
		b.circuits[circuitID] = cm
	}
	cm.byLoc[loc.String()] = spans
	if len(spans) == 0 {
		return
	}
	innermost := spans[0]
	key := lineKey{fileID: innermost.FileID, line: innermost.StartLine}
	if _, exists := cm.byLine[key]; !exists {
		cm.byLine[key] = loc
	}
}

// Build finalises the artifact. The builder must not be reused afterward.
func (b *Builder) Build() *Artifact {
	return &Artifact{fset: b.fset, files: b.files, circuits: b.circuits}
}

// OpcodeLocation returns the source spans loc maps to within circuitID,
// innermost first, or false if the location has no recorded mapping.
func (a *Artifact) OpcodeLocation(circuitID uint32, loc acir.OpcodeLocation) ([]Span, bool) {
	cm, ok := a.circuits[circuitID]
	if !ok {
		return nil, false
	}
	spans, ok := cm.byLoc[loc.String()]
	return spans, ok
}

// File returns the path and source text registered under id.
func (a *Artifact) File(id uint32) (File, bool) {
	f, ok := a.files[id]
	return f, ok
}

// SourceSpansFor implements protocol.SourceLocator.
func (a *Artifact) SourceSpansFor(loc acir.DebugLocation) ([]protocol.SourceSpan, bool) {
	spans, ok := a.OpcodeLocation(loc.CircuitID, loc.Loc)
	if !ok {
		return nil, false
	}
	out := make([]protocol.SourceSpan, len(spans))
	for i, s := range spans {
		out[i] = protocol.SourceSpan{
			FileID: s.FileID, StartLine: s.StartLine, StartCol: s.StartCol,
			EndLine: s.EndLine, EndCol: s.EndCol,
		}
	}
	return out, true
}

// FindOpcodeAtLine implements protocol.SourceLocator: it reports an
// opcode whose innermost span starts at (fileID, line). Within one circuit
// that is the first such opcode added to the builder; every circuit is
// searched, and when several circuits have an opcode on that line, which
// one is returned is not defined.
func (a *Artifact) FindOpcodeAtLine(fileID uint32, line int) (acir.OpcodeLocation, bool) {
	for _, cm := range a.circuits {
		if loc, ok := cm.byLine[lineKey{fileID: fileID, line: line}]; ok {
			return loc, true
		}
	}
	return acir.OpcodeLocation{}, false
}

// SourceKey implements engine.LocationSource: two debug locations share a
// source key when their innermost recorded span is the same (file, start
// line), which is how next_into/next_over/next_out detect a "source line
// changed" stopping condition.
func (a *Artifact) SourceKey(loc acir.DebugLocation) (string, bool) {
	spans, ok := a.OpcodeLocation(loc.CircuitID, loc.Loc)
	if !ok || len(spans) == 0 {
		return fmt.Sprintf("unmapped:%s", loc), false
	}
	s := spans[0]
	return fmt.Sprintf("%d:%d", s.FileID, s.StartLine), true
}
