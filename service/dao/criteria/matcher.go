package criteria

import (
	"github.com/viant/stepflow/service/dao"
)

// Attributes exposes filterable fields of an entity by parameter name.
type Attributes func(name string) (string, bool)

// Match reports whether attrs satisfy every parameter. A parameter value is
// either a string or a []string of accepted values; unknown names never
// match.
func Match(attrs Attributes, parameters []*dao.Parameter) bool {
	for _, param := range parameters {
		if param == nil {
			continue
		}
		actual, ok := attrs(param.Name)
		if !ok {
			return false
		}
		switch expected := param.Value.(type) {
		case string:
			if actual != expected {
				return false
			}
		case []string:
			if !contains(expected, actual) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func contains(values []string, candidate string) bool {
	for _, v := range values {
		if v == candidate {
			return true
		}
	}
	return false
}
