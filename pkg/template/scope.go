package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\[[0-9]+\])*(\.[A-Za-z_$][A-Za-z0-9_$]*(\[[0-9]+\])*)*$`)

type scope struct {
	data  any
	root  any
	index int
}

func (s *scope) child(data any, index int) *scope {
	return &scope{data: data, root: s.root, index: index}
}

// resolve looks up a dotted path. Anything that is not a plain path, such as
// a function call, reports unresolved.
func (s *scope) resolve(expr string) (any, bool) {
	if !pathPattern.MatchString(expr) {
		return nil, false
	}
	parts := strings.Split(expr, ".")
	var cur any
	first, idx := splitIndexes(parts[0])
	switch first {
	case "$root":
		cur = s.root
	case "$data":
		cur = s.data
	case "$index":
		if s.index < 0 || len(parts) > 1 || len(idx) > 0 {
			return nil, false
		}
		return json.Number(strconv.Itoa(s.index)), true
	default:
		m, ok := s.data.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[first]; !ok {
			return nil, false
		}
	}
	cur, ok := walkIndexes(cur, idx)
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		key, indexes := splitIndexes(part)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
		if cur, ok = walkIndexes(cur, indexes); !ok {
			return nil, false
		}
	}
	return cur, true
}

func splitIndexes(part string) (string, []int) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return part, nil
	}
	key := part[:open]
	var idx []int
	for _, chunk := range strings.Split(part[open+1:], "[") {
		n, err := strconv.Atoi(strings.TrimSuffix(chunk, "]"))
		if err != nil {
			continue
		}
		idx = append(idx, n)
	}
	return key, idx
}

func walkIndexes(cur any, idx []int) (any, bool) {
	for _, i := range idx {
		list, ok := cur.([]any)
		if !ok || i >= len(list) {
			return nil, false
		}
		cur = list[i]
	}
	return cur, true
}

// bind evaluates a $data value: a lone binding resolves through the scope, a
// literal array or object binds as is.
func (s *scope) bind(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		segs, err := scan(t)
		if err != nil || len(segs) != 1 || !segs[0].isExpr {
			return nil, false
		}
		return s.resolve(segs[0].expr)
	case []any, map[string]any:
		return t, true
	}
	return nil, false
}

// truthy evaluates a $when value. Unresolved bindings count as false.
func (s *scope) truthy(v any) bool {
	if str, ok := v.(string); ok {
		segs, err := scan(str)
		if err == nil && len(segs) == 1 && segs[0].isExpr {
			bound, ok := s.resolve(segs[0].expr)
			if !ok {
				return false
			}
			return truthyValue(bound)
		}
	}
	return truthyValue(v)
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func (s *scope) interpolate(str string) any {
	segs, err := scan(str)
	if err != nil {
		return str
	}
	if len(segs) == 1 && segs[0].isExpr {
		if v, ok := s.resolve(segs[0].expr); ok {
			return copyValue(v)
		}
		return str
	}
	var b strings.Builder
	for _, seg := range segs {
		if !seg.isExpr {
			b.WriteString(seg.text)
			continue
		}
		v, ok := s.resolve(seg.expr)
		if !ok {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(stringify(v))
	}
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
