package provider

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
)

// ArgError reports an invalid tool argument. Calls failing with an ArgError
// never reach the upstream API.
type ArgError struct {
	Name   string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Name, e.Reason)
}

// argReader reads and validates tool arguments. Accessors return zero values
// once an argument is invalid; the first failure is reported by err.
type argReader struct {
	args  map[string]any
	first error
}

func newArgReader(req mcp.CallToolRequest) *argReader {
	return &argReader{args: req.GetArguments()}
}

func (a *argReader) fail(name, format string, args ...any) {
	if a.first == nil {
		a.first = &ArgError{Name: name, Reason: fmt.Sprintf(format, args...)}
	}
}

func (a *argReader) err() error {
	return a.first
}

func (a *argReader) get(name string) (any, bool) {
	v, ok := a.args[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (a *argReader) has(name string) bool {
	_, ok := a.get(name)
	return ok
}

func (a *argReader) string(name string, required bool, maxLen int) string {
	v, ok := a.get(name)
	if !ok {
		if required {
			a.fail(name, "is required")
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(name, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		a.fail(name, "must not be empty")
		return ""
	}
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		a.fail(name, "must be at most %d characters", maxLen)
		return ""
	}
	return s
}

// requireString returns a non-empty string argument.
func (a *argReader) requireString(name string, maxLen int) string {
	return a.string(name, true, maxLen)
}

// optionalString returns a string argument, or "" when absent.
func (a *argReader) optionalString(name string, maxLen int) string {
	return a.string(name, false, maxLen)
}

// enum returns a string argument restricted to allowed values, or def when absent.
func (a *argReader) enum(name, def string, allowed ...string) string {
	s := a.string(name, false, 0)
	if s == "" {
		return def
	}
	if !slices.Contains(allowed, s) {
		a.fail(name, "must be one of %s", strings.Join(allowed, ", "))
		return ""
	}
	return s
}

func (a *argReader) number(name string) (float64, bool) {
	v, ok := a.get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f, true
		}
	}
	a.fail(name, "must be a number")
	return 0, false
}

// float returns a number argument within [min, max], or def when absent.
func (a *argReader) float(name string, def, min, max float64) float64 {
	f, ok := a.number(name)
	if !ok {
		return def
	}
	if f < min || f > max {
		a.fail(name, "must be between %v and %v", min, max)
		return def
	}
	return f
}

// requireFloat returns a number argument within [min, max].
func (a *argReader) requireFloat(name string, min, max float64) float64 {
	if !a.has(name) {
		a.fail(name, "is required")
		return 0
	}
	return a.float(name, 0, min, max)
}

// integer returns an integer argument within [min, max], or def when absent.
func (a *argReader) integer(name string, def, min, max int) int {
	f, ok := a.number(name)
	if !ok {
		return def
	}
	if f != math.Trunc(f) {
		a.fail(name, "must be an integer")
		return def
	}
	if f < float64(min) || f > float64(max) {
		a.fail(name, "must be between %d and %d", min, max)
		return def
	}
	return int(f)
}

// requireInteger returns an integer argument within [min, max].
func (a *argReader) requireInteger(name string, min, max int) int {
	if !a.has(name) {
		a.fail(name, "is required")
		return 0
	}
	return a.integer(name, 0, min, max)
}

// boolean returns a boolean argument, or def when absent.
func (a *argReader) boolean(name string, def bool) bool {
	v, ok := a.get(name)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	a.fail(name, "must be a boolean")
	return def
}

// stringSlice returns an array of non-empty strings. A single string is
// accepted as a one-element array.
func (a *argReader) stringSlice(name string, required bool, maxItems int) []string {
	v, ok := a.get(name)
	if !ok {
		if required {
			a.fail(name, "is required")
		}
		return nil
	}

	var out []string
	switch vals := v.(type) {
	case string:
		if s := strings.TrimSpace(vals); s != "" {
			out = []string{s}
		}
	case []string:
		out = vals
	case []any:
		for _, item := range vals {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				a.fail(name, "must be an array of non-empty strings")
				return nil
			}
			out = append(out, strings.TrimSpace(s))
		}
	default:
		a.fail(name, "must be an array of strings")
		return nil
	}

	if required && len(out) == 0 {
		a.fail(name, "must not be empty")
		return nil
	}
	if maxItems > 0 && len(out) > maxItems {
		a.fail(name, "must have at most %d items", maxItems)
		return nil
	}
	return out
}

// integerSlice returns an array of integers.
func (a *argReader) integerSlice(name string) []int {
	v, ok := a.get(name)
	if !ok {
		return nil
	}
	vals, ok := v.([]any)
	if !ok {
		a.fail(name, "must be an array of integers")
		return nil
	}
	out := make([]int, 0, len(vals))
	for _, item := range vals {
		f, ok := item.(float64)
		if !ok || f != math.Trunc(f) {
			a.fail(name, "must be an array of integers")
			return nil
		}
		out = append(out, int(f))
	}
	return out
}

// object returns a JSON object argument.
func (a *argReader) object(name string, required bool) map[string]any {
	v, ok := a.get(name)
	if !ok {
		if required {
			a.fail(name, "is required")
		}
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		a.fail(name, "must be an object")
		return nil
	}
	if required && len(obj) == 0 {
		a.fail(name, "must not be empty")
		return nil
	}
	return obj
}

// objectSlice returns an array of JSON objects with between minItems and
// maxItems elements.
func (a *argReader) objectSlice(name string, minItems, maxItems int) []map[string]any {
	v, ok := a.get(name)
	if !ok {
		if minItems > 0 {
			a.fail(name, "is required")
		}
		return nil
	}
	vals, ok := v.([]any)
	if !ok {
		a.fail(name, "must be an array of objects")
		return nil
	}
	if len(vals) < minItems || len(vals) > maxItems {
		a.fail(name, "must have between %d and %d items", minItems, maxItems)
		return nil
	}
	out := make([]map[string]any, 0, len(vals))
	for _, item := range vals {
		obj, ok := item.(map[string]any)
		if !ok {
			a.fail(name, "must be an array of objects")
			return nil
		}
		out = append(out, obj)
	}
	return out
}

// date returns a YYYY-MM-DD argument, or the zero time when absent.
func (a *argReader) date(name string, required bool) time.Time {
	s := a.string(name, required, 10)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		a.fail(name, "must be a date formatted as YYYY-MM-DD")
	}
	return t
}
