// Package catalog loads the fixed set of views a deployment serves. A
// catalog is a YAML document naming the card views, quick views, the roles
// some views play (home, error, sign-in) and the action ids the host sends.
// Quick view templates may live in separate JSON files next to it.
package catalog

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/dispatch"
	"github.com/rmax-ai/acebot/pkg/registry"
	"github.com/rmax-ai/acebot/pkg/template"
)

//go:embed catalogs/*.yaml catalogs/templates/*.json catalogs/catalog.schema.json
var embedded embed.FS

const (
	schemaURL   = "https://acebot.local/schemas/catalog.schema.json"
	templateDir = "templates"
)

// ErrInvalidCatalog wraps every load and build failure.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Roles names the card views the state machine falls back to.
type Roles struct {
	Home       card.ViewID `yaml:"home" json:"home"`
	Error      card.ViewID `yaml:"error" json:"error"`
	SignIn     card.ViewID `yaml:"signIn,omitempty" json:"signIn,omitempty"`
	SignedOut  card.ViewID `yaml:"signedOut,omitempty" json:"signedOut,omitempty"`
	ErrorQuick card.ViewID `yaml:"errorQuick,omitempty" json:"errorQuick,omitempty"`
}

// QuickViewDef is a quick view plus how to compute its data. With a Source
// and a signed-in caller the view renders DynamicTemplate with the source's
// data; otherwise it renders Template as is.
type QuickViewDef struct {
	card.QuickView `yaml:",inline"`
	TemplateFile   string `yaml:"templateFile,omitempty"`
	Source         string `yaml:"source,omitempty"`
	Count          int    `yaml:"count,omitempty"`

	DynamicTemplate map[string]any `yaml:"-"`
}

// Catalog is one deployment's view set.
type Catalog struct {
	Name        string                      `yaml:"name"`
	RequireAuth bool                        `yaml:"requireAuth"`
	AceData     card.AceData                `yaml:"aceData"`
	Views       Roles                       `yaml:"views"`
	Actions     map[string]dispatch.Binding `yaml:"actions"`
	CardViews   []card.CardView             `yaml:"cardViews"`
	QuickViews  []QuickViewDef              `yaml:"quickViews"`
}

// Names lists the embedded catalogs.
func Names() []string {
	entries, err := fs.ReadDir(embedded, "catalogs")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}

// Embedded loads a built-in catalog by name.
func Embedded(name string) (*Catalog, error) {
	sub, err := fs.Sub(embedded, "catalogs")
	if err != nil {
		return nil, err
	}
	return Load(sub, name)
}

// LoadFile loads a catalog from disk. Template files resolve against the
// catalog's directory.
func LoadFile(file string) (*Catalog, error) {
	dir, base := path.Split(file)
	if dir == "" {
		dir = "."
	}
	return Load(os.DirFS(dir), strings.TrimSuffix(base, ".yaml"))
}

// Load reads name.yaml from fsys, validates it against the catalog schema
// and resolves its template files.
func Load(fsys fs.FS, name string) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidCatalog, name, err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, name, err)
	}

	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidCatalog, name, err)
	}

	for i := range c.QuickViews {
		q := &c.QuickViews[i]
		if q.Template, err = normalizeTemplate(q.Template); err != nil {
			return nil, fmt.Errorf("%w: quick view %q: %w", ErrInvalidCatalog, q.ViewID, err)
		}
		if q.TemplateFile == "" {
			continue
		}
		src, err := fs.ReadFile(fsys, path.Join(templateDir, q.TemplateFile))
		if err != nil {
			return nil, fmt.Errorf("%w: quick view %q: %v", ErrInvalidCatalog, q.ViewID, err)
		}
		if q.DynamicTemplate, err = parseTemplate(src); err != nil {
			return nil, fmt.Errorf("%w: quick view %q: %s: %w", ErrInvalidCatalog, q.ViewID, q.TemplateFile, err)
		}
		if q.Template == nil {
			q.Template = q.DynamicTemplate
		}
	}
	return &c, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert yaml: %w", err)
	}
	var v any
	if err := json.Unmarshal(asJSON, &v); err != nil {
		return err
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	return schema.Validate(v)
}

func compileSchema() (*jsonschema.Schema, error) {
	raw, err := embedded.ReadFile("catalogs/catalog.schema.json")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("catalog schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("catalog schema compile failed: %w", err)
	}
	return compiled, nil
}

// normalizeTemplate turns a YAML decoded template into plain JSON values and
// checks it parses.
func normalizeTemplate(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return parseTemplate(raw)
}

func parseTemplate(raw []byte) (map[string]any, error) {
	if _, err := template.Parse(raw); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := card.FromDocument(json.RawMessage(raw), &out); err != nil {
		return nil, fmt.Errorf("template is not an object: %w", err)
	}
	return out, nil
}

// Quick returns the definition of a quick view.
func (c *Catalog) Quick(id card.ViewID) (QuickViewDef, bool) {
	for _, q := range c.QuickViews {
		if q.ViewID == id {
			return q, true
		}
	}
	return QuickViewDef{}, false
}

// Decoder returns the action decoder for the catalog's action ids.
func (c *Catalog) Decoder() *dispatch.Decoder {
	return dispatch.NewDecoder(c.Actions)
}

// Build registers every view in r and checks the catalog is consistent:
// roles point at registered views, the error card acknowledges back home,
// every navigation target exists, every submit button is bound and card
// text templates parse. The registry is sealed on success.
func (c *Catalog) Build(r *registry.Registry) error {
	ace := c.AceData.Clone()
	if ace.ID == "" {
		ace.ID = uuid.NewString()
	}

	var errs []error
	for _, v := range c.CardViews {
		v.AceData = mergeAceData(ace, v.AceData)
		if err := checkCardTemplate(v); err != nil {
			errs = append(errs, fmt.Errorf("card view %q: %w", v.ViewID, err))
			continue
		}
		if err := r.RegisterCard(v.ViewID, v); err != nil {
			errs = append(errs, err)
		}
	}
	for _, q := range c.QuickViews {
		if err := r.RegisterQuick(q.ViewID, q.QuickView); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, c.Name, errors.Join(errs...))
	}

	errs = append(errs, r.Validate())
	errs = append(errs, c.checkDynamicTargets(r)...)
	errs = append(errs, c.checkRoles(r)...)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, c.Name, err)
	}
	r.Seal()
	return nil
}

// checkDynamicTargets checks the templates only data sources render, which
// the registry never sees.
func (c *Catalog) checkDynamicTargets(r *registry.Registry) []error {
	var errs []error
	for _, q := range c.QuickViews {
		if q.DynamicTemplate == nil {
			continue
		}
		// Targets the registered template shares are reported by Validate.
		static := make(map[card.ViewID]bool)
		for _, target := range registry.TemplateTargets(q.Template) {
			static[target] = true
		}
		for _, target := range registry.TemplateTargets(q.DynamicTemplate) {
			if !static[target] && !r.HasCard(target) {
				errs = append(errs, fmt.Errorf("quick view %q template references %s view %q: %w", q.ViewID, registry.CardViews, target, registry.ErrViewNotFound))
			}
		}
	}
	return errs
}

func (c *Catalog) checkRoles(r *registry.Registry) []error {
	var errs []error
	require := func(role string, id card.ViewID) {
		if id == "" {
			errs = append(errs, fmt.Errorf("role %s: not set", role))
			return
		}
		if !r.HasCard(id) {
			errs = append(errs, fmt.Errorf("role %s: %s view %q: %w", role, registry.CardViews, id, registry.ErrViewNotFound))
		}
	}
	require("home", c.Views.Home)
	require("error", c.Views.Error)
	if c.RequireAuth {
		require("signIn", c.Views.SignIn)
	}
	if c.Views.SignedOut != "" {
		require("signedOut", c.Views.SignedOut)
	}
	if c.Views.ErrorQuick != "" && !r.HasQuick(c.Views.ErrorQuick) {
		errs = append(errs, fmt.Errorf("role errorQuick: %s view %q: %w", registry.QuickViews, c.Views.ErrorQuick, registry.ErrViewNotFound))
	}

	if ev, err := r.Card(c.Views.Error); err == nil {
		if !c.acknowledgesHome(ev) {
			errs = append(errs, fmt.Errorf("role error: card %q has no acknowledge action back to %q", ev.ViewID, c.Views.Home))
		}
	}

	bindings := c.Decoder().Bindings()
	for _, id := range r.IDs(registry.CardViews) {
		v, err := r.Card(id)
		if err != nil {
			continue
		}
		for _, comp := range v.Parameters.Components() {
			if comp.Action == nil || comp.Action.Type != card.ActionSubmit {
				continue
			}
			if _, ok := bindings[comp.ID]; !ok {
				errs = append(errs, fmt.Errorf("card view %q: button %q: %w", id, comp.ID, dispatch.ErrUnknownAction))
			}
		}
	}
	return errs
}

// acknowledgesHome reports whether the error card has a button whose action
// id is bound to acknowledge and navigates to home.
func (c *Catalog) acknowledgesHome(v card.CardView) bool {
	bindings := c.Decoder().Bindings()
	for _, comp := range v.Parameters.Components() {
		if comp.Action == nil || comp.Action.Type != card.ActionSubmit {
			continue
		}
		if bindings[comp.ID].Kind != dispatch.KindAcknowledge {
			continue
		}
		if target, ok := comp.Action.Target(); ok && target == c.Views.Home {
			return true
		}
	}
	return false
}

func mergeAceData(base, over card.AceData) card.AceData {
	out := base.Clone()
	if over.ID != "" {
		out.ID = over.ID
	}
	if over.Title != "" {
		out.Title = over.Title
	}
	if over.Description != "" {
		out.Description = over.Description
	}
	if over.CardSize != "" {
		out.CardSize = over.CardSize
	}
	if over.IconProperty != "" {
		out.IconProperty = over.IconProperty
	}
	if over.DataVersion != "" {
		out.DataVersion = over.DataVersion
	}
	if over.Properties != nil {
		out.Properties = card.CloneMap(over.Properties)
	}
	return out
}

// checkCardTemplate makes sure the card, read as a template document, is
// structurally valid.
func checkCardTemplate(v card.CardView) error {
	doc, err := card.ToDocument(v)
	if err != nil {
		return err
	}
	_, err = template.New(doc)
	return err
}
