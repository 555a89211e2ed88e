package token

// Value carries the payload associated with a scanned token: its raw source
// text plus, depending on Token kind, a decoded string, integer or float
// value. The scanner fills in only the fields relevant to the token kind it
// just produced; the others are left zero.
type Value struct {
	// Raw is the token's exact source spelling (identifier name, operator,
	// or numeric/string literal text as written).
	Raw string
	// Pos is the position of the token's first byte.
	Pos Pos
	// String is the decoded value of a STRING or COMMENT token.
	String string
	// Int is the decoded value of an INT token.
	Int int64
	// Float is the decoded value of a FLOAT token.
	Float float64
}
