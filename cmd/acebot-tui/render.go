package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/acebot/pkg/card"
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	buttonStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	inputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// input is a form field of the view on screen.
type input struct {
	ID          string
	Placeholder string
	Number      bool
}

// submit is a quick view Action.Submit.
type submit struct {
	ID    string
	Title string
	Data  map[string]any
}

// buttons returns the components of v that carry an action, in display
// order.
func buttons(v *card.CardView) []card.Component {
	var out []card.Component
	for _, c := range v.Parameters.Components() {
		if c.Action != nil {
			out = append(out, *c)
		}
	}
	return out
}

func cardInputs(v *card.CardView) []input {
	var out []input
	for _, c := range v.Parameters.Components() {
		if c.Name == card.ComponentTextInput && c.ID != "" {
			out = append(out, input{ID: c.ID, Placeholder: c.Placeholder})
		}
	}
	return out
}

func renderCard(v *card.CardView, values map[string]string) string {
	var sb strings.Builder
	title := v.AceData.Title
	for _, c := range v.Parameters.CardBar {
		if c.Title != "" {
			title = c.Title
		}
	}
	if title != "" {
		sb.WriteString(headerStyle.Render(title) + "\n")
	}
	for _, region := range [][]card.Component{v.Parameters.Header, v.Parameters.Body} {
		for _, c := range region {
			switch c.Name {
			case card.ComponentText:
				sb.WriteString(c.Text + "\n")
			case card.ComponentTextInput:
				sb.WriteString(renderInput(input{ID: c.ID, Placeholder: c.Placeholder}, values) + "\n")
			}
		}
	}
	for i, b := range buttons(v) {
		sb.WriteString(buttonStyle.Render(fmt.Sprintf("[%d] %s", i+1, buttonLabel(b))) + "\n")
	}
	if v.OnCardSelection != nil {
		sb.WriteString(subtleStyle.Render("[enter] select card") + "\n")
	}
	sb.WriteString(subtleStyle.Render(string(v.ViewID)))
	return sb.String()
}

func buttonLabel(c card.Component) string {
	label := c.Title
	if label == "" {
		label = c.ID
	}
	if c.Action.Type == card.ActionQuickView {
		return label + " ›"
	}
	return label
}

func renderInput(in input, values map[string]string) string {
	if v, ok := values[in.ID]; ok && v != "" {
		return inputStyle.Render(fmt.Sprintf("(%s) %s", in.ID, v))
	}
	return inputStyle.Render(fmt.Sprintf("(%s) ", in.ID)) + subtleStyle.Render(in.Placeholder)
}

// quickView flattens an Adaptive Card document to lines of text plus its
// inputs and submit actions.
type quickView struct {
	lines   []string
	inputs  []input
	submits []submit
}

func flattenQuick(qv *card.QuickView, values map[string]string) quickView {
	var out quickView
	if qv.ExternalLink != nil {
		out.lines = append(out.lines, "Opens "+qv.ExternalLink.Target)
		return out
	}
	out.walk(asSlice(qv.Template["body"]), values)
	for _, a := range asSlice(qv.Template["actions"]) {
		m, ok := a.(map[string]any)
		if !ok || m["type"] != "Action.Submit" {
			continue
		}
		s := submit{Title: str(m["title"])}
		data, _ := m["data"].(map[string]any)
		s.Data = data
		s.ID = str(m["id"])
		if s.ID == "" {
			s.ID = str(data["id"])
		}
		out.submits = append(out.submits, s)
	}
	return out
}

func (q *quickView) walk(elements []any, values map[string]string) {
	for _, e := range elements {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		typ := str(m["type"])
		switch {
		case typ == "TextBlock":
			text := str(m["text"])
			if m["weight"] == "Bolder" {
				text = boldStyle.Render(text)
			}
			q.lines = append(q.lines, text)
		case typ == "FactSet":
			for _, f := range asSlice(m["facts"]) {
				if fm, ok := f.(map[string]any); ok {
					q.lines = append(q.lines, fmt.Sprintf("%s: %s", str(fm["title"]), str(fm["value"])))
				}
			}
		case strings.HasPrefix(typ, "Input."):
			in := input{ID: str(m["id"]), Placeholder: str(m["placeholder"]), Number: typ == "Input.Number"}
			if in.ID != "" {
				q.inputs = append(q.inputs, in)
				q.lines = append(q.lines, renderInput(in, values))
			}
		case typ == "ColumnSet":
			var cells []string
			for _, col := range asSlice(m["columns"]) {
				cm, _ := col.(map[string]any)
				var sub quickView
				sub.walk(asSlice(cm["items"]), values)
				cells = append(cells, strings.Join(sub.lines, " "))
			}
			q.lines = append(q.lines, subtleStyle.Render(strings.Join(cells, "  ·  ")))
		default:
			if items, ok := m["items"]; ok {
				if m["separator"] == true && len(q.lines) > 0 {
					q.lines = append(q.lines, subtleStyle.Render("───"))
				}
				q.walk(asSlice(items), values)
			}
		}
	}
}

func (q quickView) render(title string) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(title) + "\n")
	for _, l := range q.lines {
		sb.WriteString(l + "\n")
	}
	for i, s := range q.submits {
		label := s.Title
		if label == "" {
			label = s.ID
		}
		sb.WriteString(buttonStyle.Render(fmt.Sprintf("[%d] %s", i+1, label)) + "\n")
	}
	return sb.String()
}

// formData merges action parameters with the entered field values. Number
// inputs are sent as numbers.
func formData(params map[string]any, inputs []input, values map[string]string) map[string]any {
	data := make(map[string]any, len(params)+len(inputs))
	for k, v := range params {
		if k == "id" {
			continue
		}
		data[k] = v
	}
	for _, in := range inputs {
		v, ok := values[in.ID]
		if !ok {
			continue
		}
		if in.Number {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				data[in.ID] = n
				continue
			}
		}
		data[in.ID] = v
	}
	return data
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
