package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Validate checks a decoded oracle reply against the template's fields and
// returns a repaired copy holding only known fields. Every problem found is
// reported, not just the first.
//
// Repairs: missing optional strings become "", missing optional integers 0,
// missing optional arrays []; numeric strings and integral floats become
// integers; a lone value where an array is expected is wrapped; enum values
// are matched case-insensitively and lower-cased.
func (tmpl *Template) Validate(raw []byte) (map[string]any, []string) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, []string{fmt.Sprintf("reply is not valid JSON: %v", err)}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, []string{fmt.Sprintf("reply must be a JSON object, got %s", typeName(v))}
	}

	w := &walker{}
	out := w.object("", tmpl.Fields, obj)
	return out, w.problems
}

type walker struct {
	problems []string
}

func (w *walker) fail(path string, format string, args ...any) {
	w.problems = append(w.problems, path+": "+fmt.Sprintf(format, args...))
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (w *walker) object(path string, fields []Field, obj map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fp := join(path, f.Name)
		v, present := obj[f.Name]
		if !present || v == nil {
			if f.Required {
				w.fail(fp, "required field missing")
				continue
			}
			out[f.Name] = zeroValue(f)
			continue
		}
		if repaired, ok := w.value(fp, f, v); ok {
			out[f.Name] = repaired
		}
	}
	return out
}

func zeroValue(f Field) any {
	switch f.Type {
	case TypeInteger:
		return 0
	case TypeArray:
		return []any{}
	case TypeObject:
		return map[string]any{}
	default:
		return ""
	}
}

func (w *walker) value(path string, f Field, v any) (any, bool) {
	switch f.Type {
	case TypeString, TypeHTML:
		return w.str(path, f, v)
	case TypeInteger:
		return w.integer(path, f, v)
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			w.fail(path, "expected object, got %s", typeName(v))
			return nil, false
		}
		return w.object(path, f.Fields, obj), true
	case TypeArray:
		return w.array(path, f, v)
	}
	w.fail(path, "unsupported field type %q", f.Type)
	return nil, false
}

func (w *walker) str(path string, f Field, v any) (any, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		w.fail(path, "expected string, got %s", typeName(v))
		return nil, false
	}
	if len(f.Enum) == 0 {
		return s, true
	}
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, allowed := range f.Enum {
		if norm == allowed {
			return norm, true
		}
	}
	w.fail(path, "%q is not one of %s", s, strings.Join(f.Enum, ", "))
	return nil, false
}

func (w *walker) integer(path string, f Field, v any) (any, bool) {
	var n int
	switch t := v.(type) {
	case json.Number:
		parsed, ok := parseInteger(t.String())
		if !ok {
			w.fail(path, "expected integer, got %s", t.String())
			return nil, false
		}
		n = parsed
	case string:
		parsed, ok := parseInteger(strings.TrimSpace(t))
		if !ok {
			w.fail(path, "expected integer, got %q", t)
			return nil, false
		}
		n = parsed
	default:
		w.fail(path, "expected integer, got %s", typeName(v))
		return nil, false
	}
	if f.Minimum != nil && n < *f.Minimum {
		w.fail(path, "must be at least %d, got %d", *f.Minimum, n)
		return nil, false
	}
	return n, true
}

func parseInteger(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(fl, 0) || math.IsNaN(fl) || fl != math.Trunc(fl) {
		return 0, false
	}
	return int(fl), true
}

func (w *walker) array(path string, f Field, v any) (any, bool) {
	items, ok := v.([]any)
	if !ok {
		// a single element where a list was expected
		items = []any{v}
	}
	out := make([]any, 0, len(items))
	failed := false
	for i, item := range items {
		ip := fmt.Sprintf("%s[%d]", path, i)
		switch f.Items {
		case TypeString:
			s, ok := w.str(ip, Field{Type: TypeString}, item)
			if !ok {
				failed = true
				continue
			}
			out = append(out, s)
		case TypeObject:
			obj, ok := item.(map[string]any)
			if !ok {
				w.fail(ip, "expected object, got %s", typeName(item))
				failed = true
				continue
			}
			before := len(w.problems)
			repaired := w.object(ip, f.Fields, obj)
			if len(w.problems) > before {
				failed = true
				continue
			}
			out = append(out, repaired)
		}
	}
	if failed {
		return nil, false
	}
	return out, true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
