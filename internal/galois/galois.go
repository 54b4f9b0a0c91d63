// Package galois implements arithmetic in GF(2^8) using discrete-log tables.
//
// The field is generated by the primitive polynomial x^8+x^4+x^3+x^2+1 (0x11D)
// with generator 2. Every nonzero element is a power of the generator, so
// multiplication and division reduce to adding and subtracting logarithms
// modulo 255, the order of the multiplicative group.
package galois

import "sync"

const (
	// Modulus is the primitive polynomial x^8+x^4+x^3+x^2+1.
	Modulus = 0x11D

	// Order is the number of nonzero field elements.
	Order = 255

	// Size is the number of field elements.
	Size = 256
)

var (
	logTable [Size]uint8 // logTable[0] is unused
	expTable [Size]uint8 // expTable[255] is unused
	initOnce sync.Once
)

func initTables() {
	initOnce.Do(func() {
		x := 1
		for e := 0; e < Order; e++ {
			logTable[x] = uint8(e)
			expTable[e] = uint8(x)

			x <<= 1
			if x&Size != 0 {
				x ^= Modulus
			}
		}
	})
}

// GF256 is the field GF(2^8). The zero value is ready to use.
type GF256 struct{}

// Field returns the shared GF(2^8) instance with its tables built.
func Field() GF256 {
	initTables()
	return GF256{}
}

// Zero returns the additive identity.
func (GF256) Zero() byte { return 0 }

// One returns the multiplicative identity.
func (GF256) One() byte { return 1 }

// Add returns a + b, which in characteristic 2 is XOR.
func (GF256) Add(a, b byte) byte { return a ^ b }

// Sub returns a - b. Subtraction and addition coincide.
func (GF256) Sub(a, b byte) byte { return a ^ b }

// Mul returns a * b.
func (GF256) Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	initTables()
	return expTable[(int(logTable[a])+int(logTable[b]))%Order]
}

// Div returns a / b. Dividing by zero fails with ErrDivisionByZero.
func (GF256) Div(a, b byte) (byte, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if a == 0 {
		return 0, nil
	}
	initTables()
	return expTable[(int(logTable[a])-int(logTable[b])+Order)%Order], nil
}

// Inv returns the multiplicative inverse of a.
func (f GF256) Inv(a byte) (byte, error) {
	return f.Div(1, a)
}

// Pow returns a^n. The exponent is reduced modulo the group order, so
// Pow(a, 0) == 1 for every a, including zero.
func (f GF256) Pow(a byte, n int) byte {
	n %= Order
	if n < 0 {
		n += Order
	}
	res := byte(1)
	for ; n > 0; n-- {
		res = f.Mul(res, a)
	}
	return res
}

// Log returns the discrete logarithm of a nonzero element.
func (GF256) Log(a byte) (int, error) {
	if a == 0 {
		return 0, ErrDivisionByZero
	}
	initTables()
	return int(logTable[a]), nil
}

// Exp returns generator^e, with e reduced modulo the group order.
func (GF256) Exp(e int) byte {
	initTables()
	e %= Order
	if e < 0 {
		e += Order
	}
	return expTable[e]
}

// Vandermonde returns the m×k coding matrix V[i][j] = (j+1)^i.
func Vandermonde(m, k int) [][]byte {
	f := Field()
	v := make([][]byte, m)
	for i := range v {
		v[i] = make([]byte, k)
		for j := range v[i] {
			v[i][j] = f.Pow(byte(j+1), i)
		}
	}
	return v
}
