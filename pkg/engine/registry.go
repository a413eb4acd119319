package engine

import (
	"fmt"
	"slices"
	"sort"

	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/kopl"
)

// ParamKind is the argument shape a primitive expects in one position.
type ParamKind int

const (
	// KindEntities is an entity set. Program dependencies bind to these.
	KindEntities ParamKind = iota
	// KindValues is a list of typed values. Program dependencies bind to these too.
	KindValues
	// KindString is a literal. Program inputs bind to these.
	KindString
)

func (k ParamKind) String() string {
	switch k {
	case KindEntities:
		return "entities"
	case KindValues:
		return "values"
	default:
		return "string"
	}
}

// Param is one positional argument of a primitive.
type Param struct {
	Name string
	Kind ParamKind
}

// Signature describes a primitive and how to invoke it with positional
// arguments. Arguments are kopl.EntitySet for KindEntities, []kopl.Value for
// KindValues and string for KindString.
type Signature struct {
	Name   string
	Params []Param
	call   func(e *Engine, args []any) (any, error)
}

// Dependencies returns how many arguments come from earlier results.
func (s Signature) Dependencies() int {
	n := 0
	for _, p := range s.Params {
		if p.Kind != KindString {
			n++
		}
	}
	return n
}

// Inputs returns how many literal arguments the primitive takes.
func (s Signature) Inputs() int { return len(s.Params) - s.Dependencies() }

func ent(name string) Param { return Param{Name: name, Kind: KindEntities} }
func str(name string) Param { return Param{Name: name, Kind: KindString} }
func vals(name string) Param { return Param{Name: name, Kind: KindValues} }

var registry = map[string]Signature{}

// aliases maps annotation-only names onto primitives.
var aliases = map[string]string{"What": "QueryName"}

func register(name string, params []Param, call func(e *Engine, a []any) (any, error)) {
	registry[name] = Signature{Name: name, Params: params, call: call}
}

func init() {
	register("Find", []Param{str("name")}, func(e *Engine, a []any) (any, error) {
		return e.Find(a[0].(string)), nil
	})
	register("FindAll", nil, func(e *Engine, a []any) (any, error) {
		return e.FindAll(), nil
	})
	register("FilterConcept", []Param{ent("entities"), str("concept_name")}, func(e *Engine, a []any) (any, error) {
		return e.FilterConcept(a[0].(kopl.EntitySet), a[1].(string)), nil
	})
	register("FilterStr", []Param{ent("entities"), str("key"), str("value")}, func(e *Engine, a []any) (any, error) {
		return e.FilterStr(a[0].(kopl.EntitySet), a[1].(string), a[2].(string)), nil
	})
	filter4 := []Param{ent("entities"), str("key"), str("value"), str("op")}
	register("FilterNum", filter4, func(e *Engine, a []any) (any, error) {
		return e.FilterNum(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string))
	})
	register("FilterYear", filter4, func(e *Engine, a []any) (any, error) {
		return e.FilterYear(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string))
	})
	register("FilterDate", filter4, func(e *Engine, a []any) (any, error) {
		return e.FilterDate(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string))
	})
	register("QFilterStr", []Param{ent("entities"), str("qkey"), str("qvalue")}, func(e *Engine, a []any) (any, error) {
		return e.QFilterStr(a[0].(kopl.EntitySet), a[1].(string), a[2].(string))
	})
	qfilter4 := []Param{ent("entities"), str("qkey"), str("qvalue"), str("op")}
	register("QFilterNum", qfilter4, func(e *Engine, a []any) (any, error) {
		return e.QFilterNum(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string))
	})
	register("QFilterYear", qfilter4, func(e *Engine, a []any) (any, error) {
		return e.QFilterYear(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string))
	})
	register("QFilterDate", qfilter4, func(e *Engine, a []any) (any, error) {
		return e.QFilterDate(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string))
	})
	register("Relate", []Param{ent("entities"), str("relation"), str("direction")}, func(e *Engine, a []any) (any, error) {
		return e.Relate(a[0].(kopl.EntitySet), a[1].(string), a[2].(string))
	})
	register("And", []Param{ent("l_entities"), ent("r_entities")}, func(e *Engine, a []any) (any, error) {
		return e.And(a[0].(kopl.EntitySet), a[1].(kopl.EntitySet)), nil
	})
	register("Or", []Param{ent("l_entities"), ent("r_entities")}, func(e *Engine, a []any) (any, error) {
		return e.Or(a[0].(kopl.EntitySet), a[1].(kopl.EntitySet)), nil
	})
	register("Count", []Param{ent("entities")}, func(e *Engine, a []any) (any, error) {
		return e.Count(a[0].(kopl.EntitySet)), nil
	})
	register("QueryAttr", []Param{ent("entities"), str("key")}, func(e *Engine, a []any) (any, error) {
		return e.QueryAttr(a[0].(kopl.EntitySet), a[1].(string)), nil
	})
	register("QueryAttrQualifier", []Param{ent("entities"), str("key"), str("value"), str("qkey")}, func(e *Engine, a []any) (any, error) {
		return e.QueryAttrQualifier(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string)), nil
	})
	register("QueryAttrUnderCondition", []Param{ent("entities"), str("key"), str("qkey"), str("qvalue")}, func(e *Engine, a []any) (any, error) {
		return e.QueryAttrUnderCondition(a[0].(kopl.EntitySet), a[1].(string), a[2].(string), a[3].(string)), nil
	})
	register("QueryName", []Param{ent("entities")}, func(e *Engine, a []any) (any, error) {
		return e.QueryName(a[0].(kopl.EntitySet)), nil
	})
	register("QueryRelation", []Param{ent("s_entities"), ent("t_entities")}, func(e *Engine, a []any) (any, error) {
		return e.QueryRelation(a[0].(kopl.EntitySet), a[1].(kopl.EntitySet)), nil
	})
	register("QueryRelationQualifier", []Param{ent("s_entities"), ent("t_entities"), str("relation"), str("qkey")}, func(e *Engine, a []any) (any, error) {
		return e.QueryRelationQualifier(a[0].(kopl.EntitySet), a[1].(kopl.EntitySet), a[2].(string), a[3].(string)), nil
	})
	register("SelectAmong", []Param{ent("entities"), str("key"), str("op")}, func(e *Engine, a []any) (any, error) {
		return e.SelectAmong(a[0].(kopl.EntitySet), a[1].(string), a[2].(string))
	})
	register("SelectBetween", []Param{ent("l_entities"), ent("r_entities"), str("key"), str("op")}, func(e *Engine, a []any) (any, error) {
		return e.SelectBetween(a[0].(kopl.EntitySet), a[1].(kopl.EntitySet), a[2].(string), a[3].(string))
	})
	register("VerifyStr", []Param{vals("s_value"), str("t_value")}, func(e *Engine, a []any) (any, error) {
		return e.VerifyStr(a[0].([]kopl.Value), a[1].(string)), nil
	})
	verify3 := []Param{vals("s_value"), str("t_value"), str("op")}
	register("VerifyNum", verify3, func(e *Engine, a []any) (any, error) {
		return e.VerifyNum(a[0].([]kopl.Value), a[1].(string), a[2].(string))
	})
	register("VerifyYear", verify3, func(e *Engine, a []any) (any, error) {
		return e.VerifyYear(a[0].([]kopl.Value), a[1].(string), a[2].(string))
	})
	register("VerifyDate", verify3, func(e *Engine, a []any) (any, error) {
		return e.VerifyDate(a[0].([]kopl.Value), a[1].(string), a[2].(string))
	})
}

// Lookup returns the signature of a primitive. Annotation aliases such as
// What resolve to their primitive.
func Lookup(name string) (Signature, bool) {
	if target, ok := aliases[name]; ok {
		name = target
	}
	sig, ok := registry[name]
	return sig, ok
}

// Names returns the primitive names in lexical order, aliases excluded.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named primitive with positional arguments after checking
// arity and argument shapes. A []string argument in a values position is
// accepted as a list of string values.
func (e *Engine) Call(name string, args []any) (any, error) {
	sig, ok := Lookup(name)
	if !ok {
		return nil, kerrors.Newf(kerrors.CodeUnknownFunction, "unknown function %q", name).
			WithContext("function", name)
	}
	if len(args) != len(sig.Params) {
		return nil, kerrors.Newf(kerrors.CodeArityMismatch,
			"%s expects %d arguments, got %d", sig.Name, len(sig.Params), len(args)).
			WithContext("function", sig.Name)
	}
	checked := slices.Clone(args)
	for i, p := range sig.Params {
		v, err := coerce(p, args[i])
		if err != nil {
			return nil, kerrors.New(kerrors.CodeTypeMismatch,
				fmt.Sprintf("%s argument %s", sig.Name, p.Name), err).
				WithContext("function", sig.Name)
		}
		checked[i] = v
	}
	return sig.call(e, checked)
}

func coerce(p Param, arg any) (any, error) {
	switch p.Kind {
	case KindEntities:
		if set, ok := arg.(kopl.EntitySet); ok && set != nil {
			return set, nil
		}
	case KindValues:
		switch v := arg.(type) {
		case []kopl.Value:
			return v, nil
		case []string:
			out := make([]kopl.Value, len(v))
			for i, s := range v {
				out[i] = kopl.String(s)
			}
			return out, nil
		case kopl.Value:
			return []kopl.Value{v}, nil
		}
	case KindString:
		if s, ok := arg.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("want %s, got %T", p.Kind, arg)
}
