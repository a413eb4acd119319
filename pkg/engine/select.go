package engine

import (
	"slices"

	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/kopl"
)

type candidate struct {
	id    string
	value kopl.Value
}

// SelectAmong returns the names of the entities holding the largest or
// smallest value of key. Only values comparable with the first candidate
// take part. Ties are resolved by the engine's TiePolicy.
func (e *Engine) SelectAmong(set kopl.EntitySet, key, op string) ([]string, error) {
	var want int
	switch op {
	case "largest":
		want = 1
	case "smallest":
		want = -1
	default:
		return nil, kerrors.Newf(kerrors.CodeInvalidInput, "select op must be largest or smallest, got %q", op)
	}

	var cands []candidate
	for _, id := range set.IDs() {
		for _, attr := range e.kb.Attributes(id, key) {
			if attr.Value.Type == kopl.TypeString || attr.Value.Type == "" {
				continue
			}
			if len(cands) > 0 {
				if _, ok := e.policy.Compare(attr.Value, cands[0].value); !ok {
					continue
				}
			}
			cands = append(cands, candidate{id: id, value: attr.Value})
		}
	}
	if len(cands) == 0 {
		return []string{}, nil
	}

	best := cands[0].value
	for _, c := range cands[1:] {
		if cmp, _ := e.policy.Compare(c.value, best); cmp == want {
			best = c.value
		}
	}

	var ids []string
	for _, c := range cands {
		if cmp, _ := e.policy.Compare(c.value, best); cmp == 0 && !slices.Contains(ids, c.id) {
			ids = append(ids, c.id)
		}
	}
	if e.ties == TieFirst {
		ids = ids[:1]
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := e.kb.Name(id); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// SelectBetween compares the value of key on two single entities and returns
// the name of the less or greater one. Equal values return the left name.
// Each side must resolve to exactly one entity holding a value for key.
func (e *Engine) SelectBetween(l, r kopl.EntitySet, key, op string) (string, error) {
	if op != "less" && op != "greater" {
		return "", kerrors.Newf(kerrors.CodeInvalidInput, "select op must be less or greater, got %q", op)
	}
	left, err := e.representative(l, key, "left")
	if err != nil {
		return "", err
	}
	right, err := e.representative(r, key, "right")
	if err != nil {
		return "", err
	}
	cmp, ok := e.policy.Compare(left.value, right.value)
	if !ok {
		return "", kerrors.Newf(kerrors.CodeTypeMismatch,
			"values %s and %s of %q are not comparable", left.value, right.value, key)
	}
	pick := left
	if (op == "less" && cmp > 0) || (op == "greater" && cmp < 0) {
		pick = right
	}
	name, _ := e.kb.Name(pick.id)
	return name, nil
}

func (e *Engine) representative(set kopl.EntitySet, key, side string) (candidate, error) {
	ids := slices.Compact(slices.Sorted(slices.Values(set.IDs())))
	if len(ids) != 1 {
		return candidate{}, kerrors.Newf(kerrors.CodeTypeMismatch,
			"%s side of SelectBetween must hold exactly one entity, got %d", side, len(ids)).
			WithContext("side", side)
	}
	for _, attr := range e.kb.Attributes(ids[0], key) {
		if attr.Value.Type != kopl.TypeString && attr.Value.Type != "" {
			return candidate{id: ids[0], value: attr.Value}, nil
		}
	}
	return candidate{}, kerrors.Newf(kerrors.CodeTypeMismatch,
		"%s side entity %s has no comparable value for %q", side, ids[0], key).
		WithContext("side", side)
}
