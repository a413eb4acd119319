// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package kopl

import (
	"math"
	"strings"

	kerrors "github.com/jllopis/kopl/pkg/errors"
)

// Op is a comparison operator applied uniformly to numbers, years and dates.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpGt Op = ">"
)

// ParseOp accepts the symbolic operators used in annotations and the
// spelled-out names eq, ne, lt and gt.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "=", "==", "eq":
		return OpEq, nil
	case "!=", "<>", "ne":
		return OpNe, nil
	case "<", "lt":
		return OpLt, nil
	case ">", "gt":
		return OpGt, nil
	default:
		return "", kerrors.Newf(kerrors.CodeInvalidInput, "unknown comparison operator %q", s)
	}
}

// Policy holds the tunable parts of value comparison.
type Policy struct {
	// Tolerance under which two quantities compare equal.
	Tolerance float64
	// EmptyUnitDimensionless makes an empty unit equal to Dimensionless.
	// When false, "" and "1" are distinct units.
	EmptyUnitDimensionless bool
}

// DefaultPolicy matches the reference answer comparison.
var DefaultPolicy = Policy{Tolerance: 1e-5, EmptyUnitDimensionless: true}

// NormalizeUnit maps a unit to its canonical spelling under the policy.
func (p Policy) NormalizeUnit(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" && p.EmptyUnitDimensionless {
		return Dimensionless
	}
	return unit
}

// Compare orders a against b. ok is false when the two values cannot be
// compared: different types, or quantities with different units. Years and
// dates compare with each other at year granularity.
func (p Policy) Compare(a, b Value) (cmp int, ok bool) {
	ak, bk := a.kind(), b.kind()
	switch {
	case ak == TypeString && bk == TypeString:
		return strings.Compare(a.Str, b.Str), true
	case ak == TypeQuantity && bk == TypeQuantity:
		if p.NormalizeUnit(a.Unit) != p.NormalizeUnit(b.Unit) {
			return 0, false
		}
		return p.compareFloat(a.Num, b.Num), true
	case ak == TypeYear && bk == TypeYear:
		return compareInt(a.Year, b.Year), true
	case ak == TypeDate && bk == TypeDate:
		return a.Date.Compare(b.Date), true
	case ak == TypeYear && bk == TypeDate:
		return compareInt(a.Year, b.Date.Year()), true
	case ak == TypeDate && bk == TypeYear:
		return compareInt(a.Date.Year(), b.Year), true
	}
	return 0, false
}

// Satisfies reports whether "a op b" holds. Incomparable values never satisfy
// any operator, including !=.
func (p Policy) Satisfies(a Value, op Op, b Value) bool {
	c, ok := p.Compare(a, b)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpGt:
		return c > 0
	}
	return false
}

// Equal is Satisfies with OpEq.
func (p Policy) Equal(a, b Value) bool {
	return p.Satisfies(a, OpEq, b)
}

func (p Policy) compareFloat(a, b float64) int {
	if math.Abs(a-b) < p.Tolerance {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Verdict is the answer domain of the Verify primitives.
type Verdict string

const (
	Yes     Verdict = "yes"
	No      Verdict = "no"
	NotSure Verdict = "not sure"
)
