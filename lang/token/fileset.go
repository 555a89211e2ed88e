package token

import (
	"fmt"
	stdtoken "go/token"
	"sort"
	"strconv"
)

// Position describes a (filename, offset, line, column) source location.
// It is an alias of go/token's own struct rather than a new one: scanner.go
// hands positions straight to go/scanner.ErrorList, which expects exactly
// this type, and there is no reason to keep a second copy of it around.
type Position = stdtoken.Position

// File tracks the line-start offsets of one source file registered in a
// FileSet, so a Pos belonging to it can be resolved back to a line and
// column.
type File struct {
	name string
	base int
	size int
	// lines holds, for every line after the first, the byte offset within
	// this file where that line begins. lines[i] is the start offset of
	// line i+2.
	lines []int
}

// Base is the Pos value of this file's first byte.
func (f *File) Base() int { return f.base }

// Size is the length in bytes of this file's content.
func (f *File) Size() int { return f.size }

// AddLine records that a new line begins at offset, the byte immediately
// following a newline character. Calls must be made with strictly
// increasing offsets; a call with an offset not greater than the last one
// registered is ignored.
func (f *File) AddLine(offset int) {
	if n := len(f.lines); n == 0 || f.lines[n-1] < offset {
		f.lines = append(f.lines, offset)
	}
}

// Pos returns the Pos value for the given byte offset within this file.
func (f *File) Pos(offset int) Pos { return Pos(f.base + offset) }

// offset returns the byte offset within this file for the given Pos.
func (f *File) offset(pos Pos) int { return int(pos) - f.base }

// Position resolves pos, which must belong to this file, to its
// filename/offset/line/column.
func (f *File) Position(pos Pos) Position {
	offset := f.offset(pos)
	// lineIdx counts the registered line-start offsets at or before offset;
	// line numbers are 1-based and the first line has no entry in lines, so
	// line = lineIdx + 1.
	lineIdx := sort.Search(len(f.lines), func(i int) bool { return f.lines[i] > offset })
	lineStart := 0
	if lineIdx > 0 {
		lineStart = f.lines[lineIdx-1]
	}
	return Position{
		Filename: f.name,
		Offset:   offset,
		Line:     lineIdx + 1,
		Column:   offset - lineStart + 1,
	}
}

// FileSet is a registry of source files, each assigned a disjoint range of
// Pos values so a bare Pos can be resolved back to the file and position it
// came from, exactly like the standard library's go/token.FileSet.
type FileSet struct {
	files []*File
}

// NewFileSet returns an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{}
}

// AddFile registers a new file of the given size and returns its handle.
// If base is negative, it is chosen automatically: 1 for the first file
// registered, or one past the end of the previously registered file
// otherwise. Every file reserves one extra Pos value past its last byte,
// the position reported at EOF.
func (fs *FileSet) AddFile(filename string, base, size int) *File {
	if base < 0 {
		base = 1
		if n := len(fs.files); n > 0 {
			last := fs.files[n-1]
			base = last.base + last.size + 1
		}
	}
	f := &File{name: filename, base: base, size: size}
	fs.files = append(fs.files, f)
	return f
}

// File returns the file that pos belongs to, or nil if pos is not owned by
// any file registered in fs.
func (fs *FileSet) File(pos Pos) *File {
	i := sort.Search(len(fs.files), func(i int) bool { return fs.files[i].base > int(pos) })
	if i == 0 {
		return nil
	}
	f := fs.files[i-1]
	if int(pos) < f.base || int(pos) > f.base+f.size {
		return nil
	}
	return f
}

// PosMode selects how FormatPos renders a Pos.
type PosMode int

const (
	// PosLong renders "filename:line:col".
	PosLong PosMode = iota
	// PosOffsets renders the 0-based byte offset within the file.
	PosOffsets
	// PosRaw renders the raw Pos value.
	PosRaw
	// PosNone renders the empty string.
	PosNone
)

// String names mode, mostly for use in test names and -help output.
func (mode PosMode) String() string {
	switch mode {
	case PosLong:
		return "long"
	case PosOffsets:
		return "offsets"
	case PosRaw:
		return "raw"
	case PosNone:
		return "none"
	default:
		return "unknown"
	}
}

// FormatPos renders pos, which must belong to file (when pos is valid),
// according to mode. withFilename controls whether PosLong includes the
// filename; the colon separator before the line number is always present,
// even when the filename is omitted.
func FormatPos(mode PosMode, file *File, pos Pos, withFilename bool) string {
	switch mode {
	case PosNone:
		return ""
	case PosRaw:
		return strconv.Itoa(int(pos))
	case PosOffsets:
		if !pos.IsValid() {
			return "-"
		}
		return strconv.Itoa(file.offset(pos))
	case PosLong:
		name := ""
		if withFilename {
			name = file.name
		}
		if !pos.IsValid() {
			return fmt.Sprintf("%s:-:-", name)
		}
		p := file.Position(pos)
		if withFilename {
			name = p.Filename
		}
		return fmt.Sprintf("%s:%d:%d", name, p.Line, p.Column)
	default:
		return ""
	}
}
