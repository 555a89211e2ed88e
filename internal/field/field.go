// Package field implements arithmetic over the fixed prime field the ACIR
// and Brillig layers operate on. It wraps the BN254 scalar field from
// gnark-crypto, the same curve Noir's ACIR targets, rather than
// reimplementing modular arithmetic on top of math/big.
package field

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Element is a single element of the field. The zero value is the additive
// identity.
type Element struct {
	v fr.Element
}

// Zero returns the additive identity.
func Zero() Element { return Element{} }

// One returns the multiplicative identity.
func One() Element {
	var e Element
	e.v.SetOne()
	return e
}

// FromUint64 builds an element from a small unsigned integer.
func FromUint64(x uint64) Element {
	var e Element
	e.v.SetUint64(x)
	return e
}

// FromBigInt reduces x modulo the field order.
func FromBigInt(x *big.Int) Element {
	var e Element
	e.v.SetBigInt(x)
	return e
}

// FromBytes interprets b as a big-endian integer, reduced modulo the field
// order.
func FromBytes(b []byte) Element {
	var e Element
	e.v.SetBytes(b)
	return e
}

// FromHex parses a "0x"-prefixed or bare hexadecimal string.
func FromHex(s string) (Element, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return Element{}, fmt.Errorf("field: invalid hex %q: %w", s, err)
	}
	return FromBytes(b), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return s
}

// Add returns x+y.
func (x Element) Add(y Element) Element {
	var z Element
	z.v.Add(&x.v, &y.v)
	return z
}

// Sub returns x-y.
func (x Element) Sub(y Element) Element {
	var z Element
	z.v.Sub(&x.v, &y.v)
	return z
}

// Mul returns x*y.
func (x Element) Mul(y Element) Element {
	var z Element
	z.v.Mul(&x.v, &y.v)
	return z
}

// Inv returns the multiplicative inverse of x. The result is the zero
// element if x is zero, matching the convention used by the solver for
// unconstrained divisions.
func (x Element) Inv() Element {
	var z Element
	if x.v.IsZero() {
		return z
	}
	z.v.Inverse(&x.v)
	return z
}

// IsZero reports whether x is the additive identity.
func (x Element) IsZero() bool { return x.v.IsZero() }

// IsOne reports whether x is the multiplicative identity.
func (x Element) IsOne() bool { return x.v.IsOne() }

// Equal reports whether x and y denote the same field element.
func (x Element) Equal(y Element) bool { return x.v.Equal(&y.v) }

// Bytes returns the big-endian byte representation, fixed to the field's
// byte width.
func (x Element) Bytes() []byte {
	b := x.v.Bytes()
	return b[:]
}

// Hex returns a "0x"-prefixed, zero-trimmed hexadecimal representation.
func (x Element) Hex() string {
	return "0x" + x.v.Text(16)
}

// ToUint128 narrows x to its low 128 bits, discarding any higher bits. This
// is used to decode lengths and small integers carried as field elements.
func (x Element) ToUint128() *big.Int {
	var bi big.Int
	x.v.BigInt(&bi)
	mask := new(big.Int).Lsh(big.NewInt(1), 128)
	mask.Sub(mask, big.NewInt(1))
	return bi.And(&bi, mask)
}

// ToUint64 narrows x to its low 64 bits.
func (x Element) ToUint64() uint64 {
	return x.ToUint128().Uint64()
}

// String implements fmt.Stringer, rendering the canonical decimal form.
func (x Element) String() string {
	var bi big.Int
	x.v.BigInt(&bi)
	return bi.String()
}
