// Package shamir implements (t,n) threshold secret sharing over GF(2^8),
// one polynomial per secret byte. The Magic Ratchet always shares with
// t == n: every share is required, there is no partial recovery.
package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrWrongThresholdAndNumber is returned when the threshold exceeds the
// share count or either is zero.
var ErrWrongThresholdAndNumber = errors.New("shamir: threshold must be in [1, n]")

// ErrReconstruct is returned when reconstruction is attempted with no
// shares, with empty shares or shares that disagree on length, or with two
// shares at the same abscissa. Supplying fewer shares than the threshold is
// not detected: it yields a wrong secret and no error.
var ErrReconstruct = errors.New("shamir: cannot reconstruct from given shares")

// Share splits secret into n shares such that any t of them reconstruct it
// and fewer than t reveal nothing. Each share is x || y_1..y_L, where x is
// a random-but-distinct non-zero abscissa shared across the whole secret and
// y_i is the evaluation of the i-th byte's degree-(t-1) polynomial at x.
func Share(secret []byte, n, t int) ([][]byte, error) {
	if n == 0 || t == 0 || t > n {
		return nil, ErrWrongThresholdAndNumber
	}

	xs, err := distinctNonZeroAbscissae(n)
	if err != nil {
		return nil, err
	}

	shares := make([][]byte, n)
	for i := range shares {
		shares[i] = make([]byte, 1+len(secret))
		shares[i][0] = xs[i]
	}

	coeffs := make([]byte, t)
	for byteIdx, secretByte := range secret {
		coeffs[0] = secretByte
		if t > 1 {
			if _, err := rand.Read(coeffs[1:]); err != nil {
				return nil, fmt.Errorf("shamir: drawing coefficients: %w", err)
			}
		}
		for i, x := range xs {
			shares[i][1+byteIdx] = evalPoly(coeffs, x)
		}
	}
	return shares, nil
}

// Reconstruct recovers the secret from a set of shares via Lagrange
// interpolation at x = 0. All supplied shares must agree on length; the
// caller is responsible for supplying at least the original threshold,
// otherwise the "recovered" secret is simply wrong (this layer provides no
// integrity of its own — that comes from the AEAD the recovered bytes feed
// into).
func Reconstruct(shares [][]byte) ([]byte, error) {
	if len(shares) == 0 {
		return nil, ErrReconstruct
	}
	shareLen := len(shares[0])
	if shareLen < 1 {
		return nil, ErrReconstruct
	}
	for _, s := range shares {
		if len(s) != shareLen {
			return nil, ErrReconstruct
		}
	}
	secretLen := shareLen - 1
	xs := make([]byte, len(shares))
	for i, s := range shares {
		xs[i] = s[0]
	}
	if hasDuplicate(xs) {
		return nil, ErrReconstruct
	}

	secret := make([]byte, secretLen)
	for byteIdx := 0; byteIdx < secretLen; byteIdx++ {
		ys := make([]byte, len(shares))
		for i, s := range shares {
			ys[i] = s[1+byteIdx]
		}
		secret[byteIdx] = interpolateAtZero(xs, ys)
	}
	return secret, nil
}

func evalPoly(coeffs []byte, x byte) byte {
	// Horner's method, highest-degree coefficient first.
	var result byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = gfAdd(gfMul(result, x), coeffs[i])
	}
	return result
}

// interpolateAtZero evaluates the unique degree-(len(xs)-1) polynomial
// through (xs[i], ys[i]) at x = 0, via the standard Lagrange formula.
func interpolateAtZero(xs, ys []byte) byte {
	var result byte
	for i := range xs {
		term := ys[i]
		for j := range xs {
			if i == j {
				continue
			}
			// numerator contributes (0 - xs[j]) = xs[j] in GF(2^8)
			// denominator contributes (xs[i] - xs[j]) = xs[i] ^ xs[j]
			num := xs[j]
			den := gfAdd(xs[i], xs[j])
			term = gfMul(term, gfDiv(num, den))
		}
		result = gfAdd(result, term)
	}
	return result
}

func distinctNonZeroAbscissae(n int) ([]byte, error) {
	if n > 255 {
		return nil, fmt.Errorf("shamir: cannot share to more than 255 parties")
	}
	seen := make(map[byte]bool, n)
	xs := make([]byte, 0, n)
	buf := make([]byte, 1)
	for len(xs) < n {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("shamir: drawing abscissa: %w", err)
		}
		x := buf[0]
		if x == 0 || seen[x] {
			continue
		}
		seen[x] = true
		xs = append(xs, x)
	}
	return xs, nil
}

func hasDuplicate(xs []byte) bool {
	seen := make(map[byte]bool, len(xs))
	for _, x := range xs {
		if seen[x] {
			return true
		}
		seen[x] = true
	}
	return false
}
