// Package bloom implements a murmur3 bloom filter over string keys.
//
// The dedupe ledger uses it to answer "definitely never recorded" without a
// storage round trip; a positive answer still has to be confirmed.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a fixed-size bloom filter. It is not safe for concurrent use.
type Filter struct {
	bits  []uint64
	m     uint64
	k     uint64
	count int
}

// New sizes a filter for expected keys at the target false positive rate.
func New(expected int, fpr float64) *Filter {
	m, k := Parameters(expected, fpr)
	words := (m + 63) / 64
	return &Filter{bits: make([]uint64, words), m: uint64(words * 64), k: uint64(k)}
}

// Parameters returns the bit count m = -n ln(p) / ln(2)^2 and hash count k = (m/n) ln(2).
func Parameters(expected int, fpr float64) (m, k int) {
	if expected <= 0 {
		expected = 1000
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}

	n := float64(expected)
	bits := -n * math.Log(fpr) / (math.Ln2 * math.Ln2)
	m = max(int(math.Ceil(bits)), 64)
	k = max(int(math.Ceil(bits/n*math.Ln2)), 1)
	return m, k
}

// Add inserts key.
func (f *Filter) Add(key string) {
	h1, h2 := murmur3.Sum128([]byte(key))
	for i := range f.k {
		pos := (h1 + i*h2) % f.m
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain is false only when key was never added.
func (f *Filter) MayContain(key string) bool {
	h1, h2 := murmur3.Sum128([]byte(key))
	for i := range f.k {
		pos := (h1 + i*h2) % f.m
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count is the number of Add calls since creation or the last Reset.
func (f *Filter) Count() int { return f.count }

// Reset clears every bit.
func (f *Filter) Reset() {
	clear(f.bits)
	f.count = 0
}

// EstimatedFPR is (1 - e^(-kn/m))^k for the current fill.
func (f *Filter) EstimatedFPR() float64 {
	if f.count == 0 {
		return 0
	}
	k, n, m := float64(f.k), float64(f.count), float64(f.m)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
