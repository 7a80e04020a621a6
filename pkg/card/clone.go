package card

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Clone returns a deep copy of the action.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	return &Action{Type: a.Type, Parameters: CloneMap(a.Parameters)}
}

// Clone returns a deep copy of the ace data.
func (d AceData) Clone() AceData {
	d.Properties = CloneMap(d.Properties)
	return d
}

func cloneComponents(in []Component) []Component {
	if in == nil {
		return nil
	}
	out := make([]Component, len(in))
	for i, c := range in {
		c.Action = c.Action.Clone()
		out[i] = c
	}
	return out
}

// Clone returns a deep copy of the card view. Nothing reachable from the copy
// is shared with the receiver.
func (c CardView) Clone() CardView {
	out := c
	out.AceData = c.AceData.Clone()
	out.Parameters.CardBar = cloneComponents(c.Parameters.CardBar)
	out.Parameters.Header = cloneComponents(c.Parameters.Header)
	out.Parameters.Body = cloneComponents(c.Parameters.Body)
	out.Parameters.Footer = cloneComponents(c.Parameters.Footer)
	if c.Parameters.Image != nil {
		img := *c.Parameters.Image
		out.Parameters.Image = &img
	}
	out.OnCardSelection = c.OnCardSelection.Clone()
	return out
}

// Clone returns a deep copy of the quick view.
func (q QuickView) Clone() QuickView {
	out := q
	out.Template = CloneMap(q.Template)
	out.Data = CloneMap(q.Data)
	if q.ExternalLink != nil {
		l := *q.ExternalLink
		out.ExternalLink = &l
	}
	if q.FocusParameters != nil {
		f := *q.FocusParameters
		out.FocusParameters = &f
	}
	return out
}

// CloneMap deep copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep copies a JSON-like value: maps, slices and scalars.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CloneMap(e)
		}
		return out
	default:
		return v
	}
}

// ToDocument converts a payload into its generic JSON form so it can be fed
// through the template renderer.
func ToDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// FromDocument decodes a generic JSON document into out.
func FromDocument(doc any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
