package program

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jllopis/kopl/pkg/kopl"
)

// emptyAnswer is how an empty result list is written in annotations.
const emptyAnswer = "Empty"

// MatchAnswer reports whether a program output matches an annotated answer.
// A one-element list is compared as its element, an empty list as "Empty",
// and a longer list matches when any element does. Quantities compare
// numerically with the dimensionless unit written as no unit.
func MatchAnswer(answer string, output any, policy kopl.Policy) bool {
	switch v := output.(type) {
	case []kopl.Value:
		switch len(v) {
		case 0:
			return answer == emptyAnswer
		case 1:
			return matchOne(answer, v[0], policy)
		}
		for _, item := range v {
			if matchOne(answer, item, policy) {
				return true
			}
		}
		return false
	case []string:
		switch len(v) {
		case 0:
			return answer == emptyAnswer
		case 1:
			return matchOne(answer, v[0], policy)
		}
		for _, item := range v {
			if matchOne(answer, item, policy) {
				return true
			}
		}
		return false
	}
	return matchOne(answer, output, policy)
}

func matchOne(answer string, output any, policy kopl.Policy) bool {
	if v, ok := output.(kopl.Value); ok && v.Type == kopl.TypeQuantity {
		num, unit, _ := strings.Cut(answer, " ")
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return false
		}
		return policy.Equal(kopl.Quantity(n, strings.TrimSpace(unit)), v)
	}
	return answer == Render(output)
}

// Render formats a program output the way answers are written.
func Render(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case kopl.Value:
		return v.String()
	case kopl.Verdict:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return v.String()
	}
	if raw, err := json.Marshal(output); err == nil {
		return string(raw)
	}
	return fmt.Sprint(output)
}
