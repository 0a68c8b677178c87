package ternutil

import (
	"math"
	"math/big"
)

// A counter for quantities that may not fit in uint64, e.g. the number
// of addresses covered by IPv6 pools. The value lives in a plain uint64
// until it outgrows it and only then switches to a big.Int, so counting
// stays cheap in the common case.
type BigCounter struct {
	base     uint64
	extended *big.Int
}

// Creates a counter holding the given value.
func NewBigCounter(val uint64) *BigCounter {
	return &BigCounter{base: val}
}

// Creates a counter from an int64 value. Returns nil when the value is
// negative.
func NewBigCounterFromInt64(val int64) *BigCounter {
	if val < 0 {
		return nil
	}
	return NewBigCounter(uint64(val))
}

// Creates a counter from a big integer. Returns nil when the value is
// negative.
func NewBigCounterFromBigInt(val *big.Int) *BigCounter {
	if val.Sign() < 0 {
		return nil
	}
	if val.IsUint64() {
		return NewBigCounter(val.Uint64())
	}
	return &BigCounter{
		base:     math.MaxUint64,
		extended: new(big.Int).Set(val),
	}
}

// Indicates that the counter switched to the big.Int representation.
func (n *BigCounter) isExtended() bool {
	return n.extended != nil
}

// Indicates that the value can be added to the uint64 representation
// without an overflow.
func (n *BigCounter) canAddToBase(val uint64) bool {
	return val <= math.MaxUint64-n.base
}

// Moves the value to the big.Int representation. Called once, when the
// value outgrows uint64.
func (n *BigCounter) initExtended() {
	n.extended = new(big.Int).SetUint64(n.base)
}

// Adds the value of the other counter. It modifies the counter in place
// and returns it for chaining.
func (n *BigCounter) Add(other *BigCounter) *BigCounter {
	if !other.isExtended() {
		return n.AddUint64(other.base)
	}
	if !n.isExtended() {
		n.initExtended()
	}
	n.extended.Add(n.extended, other.extended)
	return n
}

// Adds a uint64 value. It modifies the counter in place and returns it
// for chaining.
func (n *BigCounter) AddUint64(val uint64) *BigCounter {
	if !n.isExtended() {
		if n.canAddToBase(val) {
			n.base += val
			return n
		}
		n.initExtended()
	}
	n.extended.Add(n.extended, new(big.Int).SetUint64(val))
	return n
}

// Adds a big integer value. Negative values are ignored; the second
// returned value tells whether the value was added.
func (n *BigCounter) AddBigInt(val *big.Int) (*BigCounter, bool) {
	if val.Sign() < 0 {
		return n, false
	}
	if val.IsUint64() {
		return n.AddUint64(val.Uint64()), true
	}
	if !n.isExtended() {
		n.initExtended()
	}
	n.extended.Add(n.extended, val)
	return n, true
}

// Divides this counter by the other. The counters are not modified.
// Returns the infinity when the result is above the float64 range.
func (n *BigCounter) DivideBy(other *BigCounter) float64 {
	if !n.isExtended() && !other.isExtended() {
		return float64(n.base) / float64(other.base)
	}
	dividend := new(big.Float).SetInt(n.ToBigInt())
	divisor := new(big.Float).SetInt(other.ToBigInt())
	res, _ := new(big.Float).Quo(dividend, divisor).Float64()
	return res
}

// Works as DivideBy but returns 0 when the divisor counter is 0.
func (n *BigCounter) DivideSafeBy(other *BigCounter) float64 {
	if !other.isExtended() && other.base == 0 {
		return 0.0
	}
	return n.DivideBy(other)
}

// Returns the value as int64, saturating at the int64 range.
func (n *BigCounter) ToInt64() int64 {
	if n.isExtended() || n.base > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n.base)
}

// Returns the value as uint64. The second returned value is false when
// the value is above the uint64 range; the first one then saturates at
// the maximum.
func (n *BigCounter) ToUint64() (uint64, bool) {
	if n.isExtended() {
		return math.MaxUint64, false
	}
	return n.base, true
}

// Returns the value as float64. Large values lose precision.
func (n *BigCounter) ToFloat64() float64 {
	if n.isExtended() {
		res, _ := new(big.Float).SetInt(n.extended).Float64()
		return res
	}
	return float64(n.base)
}

// Returns the value as a big integer.
func (n *BigCounter) ToBigInt() *big.Int {
	if n.isExtended() {
		return n.extended
	}
	return new(big.Int).SetUint64(n.base)
}
