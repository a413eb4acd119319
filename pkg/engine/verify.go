// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/jllopis/kopl/pkg/kopl"

// VerifyStr checks whether any value equals target.
func (e *Engine) VerifyStr(values []kopl.Value, target string) kopl.Verdict {
	return e.verify(values, kopl.String(target), kopl.OpEq)
}

// VerifyNum checks whether any value satisfies op against the quantity target.
func (e *Engine) VerifyNum(values []kopl.Value, target, op string) (kopl.Verdict, error) {
	return e.verifyTyped(values, kopl.TypeQuantity, target, op)
}

// VerifyYear checks whether any value satisfies op against the year target.
func (e *Engine) VerifyYear(values []kopl.Value, target, op string) (kopl.Verdict, error) {
	return e.verifyTyped(values, kopl.TypeYear, target, op)
}

// VerifyDate checks whether any value satisfies op against the date target.
func (e *Engine) VerifyDate(values []kopl.Value, target, op string) (kopl.Verdict, error) {
	return e.verifyTyped(values, kopl.TypeDate, target, op)
}

func (e *Engine) verifyTyped(values []kopl.Value, typ kopl.ValueType, target, op string) (kopl.Verdict, error) {
	t, err := kopl.ParseValue(typ, target)
	if err != nil {
		return "", err
	}
	o, err := kopl.ParseOp(op)
	if err != nil {
		return "", err
	}
	return e.verify(values, t, o), nil
}

// verify is total: an empty list is "not sure", otherwise "yes" when any
// value satisfies the comparison and "no" when none does. String values are
// read with the target's type first, so "10 km" verifies against a quantity.
func (e *Engine) verify(values []kopl.Value, target kopl.Value, op kopl.Op) kopl.Verdict {
	if len(values) == 0 {
		return kopl.NotSure
	}
	for _, v := range values {
		if (v.Type == kopl.TypeString || v.Type == "") && target.Type != kopl.TypeString {
			parsed, err := kopl.ParseLike(target, v.Str)
			if err != nil {
				continue
			}
			v = parsed
		}
		if e.policy.Satisfies(v, op, target) {
			return kopl.Yes
		}
	}
	return kopl.No
}
