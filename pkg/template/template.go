// Package template expands JSON card templates with a data context.
//
// Bindings use the Adaptive Card templating syntax:
//
//	"text": "Hello ${principal.name}"   interpolated into the string
//	"count": "${emails}"                a lone binding keeps the bound JSON type
//	{"$data": "${emails}", ...}         the object is repeated once per element
//	{"$when": "${signedIn}", ...}       the object is dropped when the value is falsy
//
// Paths are dotted with optional [n] indexes and may start with $root, $data
// or $index. A binding that cannot be resolved is left in place as literal
// text. Expansion never mutates the template or the data context.
package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrTemplateParse is matched by every structural template error.
var ErrTemplateParse = errors.New("template parse error")

// ParseError reports a malformed template document.
type ParseError struct {
	// Path is the JSON path of the offending value, "$" for the document.
	Path string
	// Offset is the byte offset inside the offending string, or -1.
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("template parse error at %s (offset %d): %s", e.Path, e.Offset, e.Reason)
	}
	return fmt.Sprintf("template parse error at %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrTemplateParse }

// Template is a validated template document.
type Template struct {
	root any
}

// Parse decodes and validates a JSON template document.
func Parse(doc []byte) (*Template, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, &ParseError{Path: "$", Offset: -1, Reason: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Path: "$", Offset: -1, Reason: "trailing data after document"}
	}
	return New(root)
}

// New validates an already decoded document. The document must not be
// modified while the Template is in use.
func New(root any) (*Template, error) {
	if err := validate(root, "$"); err != nil {
		return nil, err
	}
	return &Template{root: root}, nil
}

// Expand renders the template with data. data may be any value that encodes
// to JSON; it is read through its JSON form.
func (t *Template) Expand(data any) (any, error) {
	ctx, err := normalize(data)
	if err != nil {
		return nil, err
	}
	sc := &scope{data: ctx, root: ctx, index: -1}
	outs, repeated := expandNode(t.root, sc)
	if repeated {
		return outs, nil
	}
	if len(outs) == 0 {
		return nil, nil
	}
	return outs[0], nil
}

// ExpandJSON renders the template and encodes the result.
func (t *Template) ExpandJSON(data any) ([]byte, error) {
	out, err := t.Expand(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// Expand validates tmpl and renders it with data in one step.
func Expand(tmpl any, data any) (any, error) {
	t, err := New(tmpl)
	if err != nil {
		return nil, err
	}
	return t.Expand(data)
}

// ExpandJSON parses a JSON template and renders it with data.
func ExpandJSON(tmpl []byte, data any) ([]byte, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return nil, err
	}
	return t.ExpandJSON(data)
}

func normalize(data any) (any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data context: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode data context: %w", err)
	}
	return out, nil
}

func validate(v any, path string) error {
	switch t := v.(type) {
	case string:
		if _, err := scan(t); err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Path = path
			}
			return err
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := validate(t[k], path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range t {
			if err := validate(e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case nil, bool, float64, json.Number, int, int64:
	default:
		return &ParseError{Path: path, Offset: -1, Reason: fmt.Sprintf("unsupported value of type %T", v)}
	}
	return nil
}

// segment is either literal text or one ${...} binding.
type segment struct {
	text   string
	expr   string
	isExpr bool
}

func scan(s string) ([]segment, error) {
	var segs []segment
	i := 0
	for i < len(s) {
		j := strings.Index(s[i:], "${")
		if j < 0 {
			segs = append(segs, segment{text: s[i:]})
			break
		}
		j += i
		if j > i {
			segs = append(segs, segment{text: s[i:j]})
		}
		k := strings.IndexByte(s[j+2:], '}')
		if k < 0 {
			return nil, &ParseError{Offset: j, Reason: "unterminated binding"}
		}
		end := j + 2 + k
		expr := strings.TrimSpace(s[j+2 : end])
		if expr == "" {
			return nil, &ParseError{Offset: j, Reason: "empty binding"}
		}
		segs = append(segs, segment{text: s[j : end+1], expr: expr, isExpr: true})
		i = end + 1
	}
	return segs, nil
}

// expandNode returns the outputs produced by v. An object bound to an array
// through $data yields one output per element and reports repeated; an object
// whose $when is falsy yields none.
func expandNode(v any, sc *scope) ([]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		d, hasData := t["$data"]
		if hasData {
			if bound, ok := sc.bind(d); ok {
				if items, isList := bound.([]any); isList {
					outs := make([]any, 0, len(items))
					for i, item := range items {
						if m, keep := expandObject(t, sc.child(item, i), false); keep {
							outs = append(outs, m)
						}
					}
					return outs, true
				}
				if m, keep := expandObject(t, sc.child(bound, sc.index), false); keep {
					return []any{m}, false
				}
				return nil, false
			}
		}
		if m, keep := expandObject(t, sc, hasData); keep {
			return []any{m}, false
		}
		return nil, false
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			outs, _ := expandNode(e, sc)
			out = append(out, outs...)
		}
		return []any{out}, false
	case string:
		return []any{sc.interpolate(t)}, false
	default:
		return []any{t}, false
	}
}

func expandObject(t map[string]any, sc *scope, keepData bool) (map[string]any, bool) {
	if w, ok := t["$when"]; ok && !sc.truthy(w) {
		return nil, false
	}
	out := make(map[string]any, len(t))
	for k, v := range t {
		switch k {
		case "$when":
			continue
		case "$data":
			if keepData {
				out[k] = copyValue(v)
			}
			continue
		}
		outs, repeated := expandNode(v, sc)
		switch {
		case repeated:
			out[k] = outs
		case len(outs) > 0:
			out[k] = outs[0]
		}
	}
	return out, true
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
