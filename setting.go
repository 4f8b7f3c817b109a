package stepflow

import (
	"sort"
	"strings"

	"github.com/viant/toolbox"
)

// Setting adjusts the repeat or tolerance policy of a run or a single task.
type Setting func(s *settings)

type settings struct {
	repeat    *bool
	tolerance *bool
}

// Repeat requests (or cancels a request) that the current task be invoked
// again with its original input once its fan-out completes.
func Repeat(v bool) Setting {
	return func(s *settings) { s.repeat = &v }
}

// Tolerance selects the error policy: tolerant fan-outs wait for every
// completion and deliver all errors; intolerant ones short-circuit on the
// first error and deliver it unwrapped.
func Tolerance(v bool) Setting {
	return func(s *settings) { s.tolerance = &v }
}

// ParseSettings converts a loosely typed option map, for example one decoded
// from YAML or JSON, into settings. Keys are case-insensitive; values are
// coerced to booleans, so "true", "1" and 1 all enable an option. "tolerant"
// is an alias of "tolerance"; when both are present "tolerance" wins. Among
// keys differing only in case the lexically greatest spelling wins.
func ParseSettings(options map[string]interface{}) []Setting {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		values[strings.ToLower(key)] = options[key]
	}

	var ret []Setting
	if value, ok := values["repeat"]; ok {
		ret = append(ret, Repeat(toolbox.AsBoolean(value)))
	}
	if value, ok := values["tolerance"]; ok {
		ret = append(ret, Tolerance(toolbox.AsBoolean(value)))
	} else if value, ok := values["tolerant"]; ok {
		ret = append(ret, Tolerance(toolbox.AsBoolean(value)))
	}
	return ret
}

func newSettings(list []Setting) settings {
	var s settings
	for _, apply := range list {
		if apply != nil {
			apply(&s)
		}
	}
	return s
}
