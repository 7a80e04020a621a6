package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rmax-ai/acebot/pkg/card"
)

// ErrUnknownAction is the reason of an Unknown request whose id matches no
// binding.
var ErrUnknownAction = errors.New("unknown action")

// MissingFieldError is the reason of an Unknown request whose data lacks a
// required field.
type MissingFieldError struct {
	Action string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("action %q: missing field %q", e.Action, e.Field)
}

// Kind is the canonical name of a dispatcher branch.
type Kind string

const (
	KindSubmitCredential Kind = "submit-credential"
	KindSignOut          Kind = "sign-out"
	KindAcknowledge      Kind = "acknowledge"
	KindCaptureFreeform  Kind = "capture-freeform-data"
	KindSendMessage      Kind = "send-message"
	KindQuickView        Kind = "quick-view"
	KindUnknown          Kind = "unknown"
)

// Data keys read by the decoder.
const (
	FieldCode       = "code"
	FieldValue      = "value"
	FieldTo         = "to"
	FieldSubject    = "subject"
	FieldBody       = "body"
	FieldQuickView  = "viewId"
	FieldTargetView = card.ParamViewToNavigateTo
)

// Request is one decoded action. The concrete type selects the branch.
type Request interface {
	Kind() Kind
	ActionID() string
}

// SubmitCredential completes a sign-in with a magic code.
type SubmitCredential struct {
	ID   string
	Code string
}

// SignOut drops the caller's token. Target is optional.
type SignOut struct {
	ID     string
	Target card.ViewID
}

// Acknowledge dismisses a card and navigates to Target.
type Acknowledge struct {
	ID     string
	Target card.ViewID
}

// CaptureFreeform records a free text value and shows it on Target.
type CaptureFreeform struct {
	ID     string
	Field  string
	Value  string
	Target card.ViewID
}

// SendMessage sends mail as the signed-in caller, then shows Target.
type SendMessage struct {
	ID      string
	To      string
	Subject string
	Body    string
	Target  card.ViewID
}

// OpenQuickView asks for a quick view.
type OpenQuickView struct {
	ID     string
	ViewID card.ViewID
}

// Unknown is an action that could not be decoded. Reason is ErrUnknownAction
// or a *MissingFieldError.
type Unknown struct {
	ID     string
	Reason error
}

func (r SubmitCredential) Kind() Kind { return KindSubmitCredential }
func (r SignOut) Kind() Kind          { return KindSignOut }
func (r Acknowledge) Kind() Kind      { return KindAcknowledge }
func (r CaptureFreeform) Kind() Kind  { return KindCaptureFreeform }
func (r SendMessage) Kind() Kind      { return KindSendMessage }
func (r OpenQuickView) Kind() Kind    { return KindQuickView }
func (r Unknown) Kind() Kind          { return KindUnknown }

func (r SubmitCredential) ActionID() string { return r.ID }
func (r SignOut) ActionID() string          { return r.ID }
func (r Acknowledge) ActionID() string      { return r.ID }
func (r CaptureFreeform) ActionID() string  { return r.ID }
func (r SendMessage) ActionID() string      { return r.ID }
func (r OpenQuickView) ActionID() string    { return r.ID }
func (r Unknown) ActionID() string          { return r.ID }

// Binding maps an action id onto a branch. Field overrides the data key of
// the branch's main value (the code or the captured value).
type Binding struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
}

// DefaultBindings are the action ids used by the built-in catalogs.
func DefaultBindings() map[string]Binding {
	return map[string]Binding{
		"SubmitMagicCode": {Kind: KindSubmitCredential, Field: "magicCode"},
		"SignOut":         {Kind: KindSignOut},
		"OkError":         {Kind: KindAcknowledge},
		"OkSignedOut":     {Kind: KindAcknowledge},
		"OkButton":        {Kind: KindAcknowledge},
		"SendFeedback":    {Kind: KindCaptureFreeform, Field: "feedbackValue"},
		"SendEmail":       {Kind: KindSendMessage},
	}
}

// Decoder turns (actionId, data) into a Request.
type Decoder struct {
	bindings map[string]Binding
}

// NewDecoder creates a decoder. Canonical kind names always decode; the
// given bindings add aliases on top.
func NewDecoder(bindings map[string]Binding) *Decoder {
	d := &Decoder{bindings: make(map[string]Binding)}
	for _, k := range []Kind{KindSubmitCredential, KindSignOut, KindAcknowledge, KindCaptureFreeform, KindSendMessage, KindQuickView} {
		d.bindings[string(k)] = Binding{Kind: k}
	}
	for id, b := range bindings {
		d.bindings[id] = b
	}
	return d
}

// Bindings returns a copy of the decoder's bindings.
func (d *Decoder) Bindings() map[string]Binding {
	out := make(map[string]Binding, len(d.bindings))
	for k, v := range d.bindings {
		out[k] = v
	}
	return out
}

var defaultDecoder = NewDecoder(DefaultBindings())

// Decode decodes with DefaultBindings.
func Decode(id string, data map[string]any) Request {
	return defaultDecoder.Decode(id, data)
}

// Decode never fails: anything it cannot type becomes Unknown.
func (d *Decoder) Decode(id string, data map[string]any) Request {
	b, ok := d.bindings[id]
	if !ok {
		return Unknown{ID: id, Reason: fmt.Errorf("%w: %q", ErrUnknownAction, id)}
	}
	f := fields{id: id, data: data}

	switch b.Kind {
	case KindSubmitCredential:
		r := SubmitCredential{ID: id, Code: f.first(b.Field, FieldCode, "magicCode")}
		if r.Code == "" {
			return f.missing(orDefault(b.Field, FieldCode))
		}
		return r
	case KindSignOut:
		return SignOut{ID: id, Target: card.ViewID(f.get(FieldTargetView))}
	case KindAcknowledge:
		r := Acknowledge{ID: id, Target: card.ViewID(f.get(FieldTargetView))}
		if r.Target == "" {
			return f.missing(FieldTargetView)
		}
		return r
	case KindCaptureFreeform:
		field := orDefault(b.Field, FieldValue)
		r := CaptureFreeform{ID: id, Field: field, Value: f.get(field), Target: card.ViewID(f.get(FieldTargetView))}
		if strings.TrimSpace(r.Value) == "" {
			return f.missing(field)
		}
		if r.Target == "" {
			return f.missing(FieldTargetView)
		}
		return r
	case KindSendMessage:
		r := SendMessage{
			ID:      id,
			To:      f.get(FieldTo),
			Subject: f.get(FieldSubject),
			Body:    f.get(FieldBody),
			Target:  card.ViewID(f.get(FieldTargetView)),
		}
		for _, req := range []struct{ name, v string }{{FieldTo, r.To}, {FieldSubject, r.Subject}, {FieldTargetView, string(r.Target)}} {
			if req.v == "" {
				return f.missing(req.name)
			}
		}
		return r
	case KindQuickView:
		r := OpenQuickView{ID: id, ViewID: card.ViewID(f.first(b.Field, FieldQuickView, card.ParamView))}
		if r.ViewID == "" {
			return f.missing(FieldQuickView)
		}
		return r
	}
	return Unknown{ID: id, Reason: fmt.Errorf("%w: %q bound to kind %q", ErrUnknownAction, id, b.Kind)}
}

type fields struct {
	id   string
	data map[string]any
}

func (f fields) missing(name string) Request {
	return Unknown{ID: f.id, Reason: &MissingFieldError{Action: f.id, Field: name}}
}

// get reads a scalar field as text. Numbers keep their integer form, so a
// numeric magic code reads back as typed.
func (f fields) get(key string) string {
	if key == "" {
		return ""
	}
	switch v := f.data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func (f fields) first(keys ...string) string {
	for _, k := range keys {
		if v := f.get(k); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
