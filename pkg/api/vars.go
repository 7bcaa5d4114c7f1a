package api

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strconv"
)

// Vars is the run-scoped variable map used for placeholder substitution,
// condition evaluation and node outputs
type Vars map[string]any

var placeholderPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Set creates a new Vars with the specified name-value pair added
func (v Vars) Set(name string, value any) Vars {
	if v == nil {
		return Vars{name: value}
	}
	res := maps.Clone(v)
	res[name] = value
	return res
}

// Merge creates a new Vars containing v overlaid with other
func (v Vars) Merge(other Vars) Vars {
	res := make(Vars, len(v)+len(other))
	maps.Copy(res, v)
	maps.Copy(res, other)
	return res
}

// GetString retrieves a string value, returning defaultValue if not found or
// of the wrong type
func (v Vars) GetString(name, defaultValue string) string {
	val, ok := v[name]
	if !ok {
		return defaultValue
	}
	str, ok := val.(string)
	if !ok {
		return defaultValue
	}
	return str
}

// Substitute replaces every ${name} placeholder in text with the matching
// variable. Missing and nil variables are left as literal placeholder text
func Substitute(text string, vars Vars) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		val, ok := vars[name]
		if !ok || val == nil {
			return m
		}
		return Stringify(val)
	})
}

// Stringify renders a variable value the way it appears inside a step
func Stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
