// Package registry holds the catalog of card views and quick views of one
// deployment. Views are registered once during startup; afterwards every read
// hands out an owned deep copy, so per-request patching never reaches the
// stored template.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rmax-ai/acebot/pkg/card"
)

var (
	// ErrViewNotFound is returned when a lookup misses.
	ErrViewNotFound = errors.New("view not found")
	// ErrDuplicateViewID is returned when an id is registered twice in the
	// same namespace.
	ErrDuplicateViewID = errors.New("duplicate view id")
	// ErrSealed is returned when registering after Seal.
	ErrSealed = errors.New("registry is sealed")
)

// Namespace distinguishes card view ids from quick view ids.
type Namespace string

const (
	CardViews  Namespace = "card"
	QuickViews Namespace = "quick"
)

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	cards  map[card.ViewID]card.CardView
	quicks map[card.ViewID]card.QuickView
	sealed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		cards:  make(map[card.ViewID]card.CardView),
		quicks: make(map[card.ViewID]card.QuickView),
	}
}

// RegisterCard stores a copy of v under id. The stored view's ViewID is
// always id.
func (r *Registry) RegisterCard(id card.ViewID, v card.CardView) error {
	if id == "" {
		return fmt.Errorf("register card view: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register card view %q: %w", id, ErrSealed)
	}
	if _, exists := r.cards[id]; exists {
		return fmt.Errorf("register card view %q: %w", id, ErrDuplicateViewID)
	}
	stored := v.Clone()
	stored.ViewID = id
	r.cards[id] = stored
	return nil
}

// RegisterQuick stores a copy of v under id.
func (r *Registry) RegisterQuick(id card.ViewID, v card.QuickView) error {
	if id == "" {
		return fmt.Errorf("register quick view: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register quick view %q: %w", id, ErrSealed)
	}
	if _, exists := r.quicks[id]; exists {
		return fmt.Errorf("register quick view %q: %w", id, ErrDuplicateViewID)
	}
	stored := v.Clone()
	stored.ViewID = id
	r.quicks[id] = stored
	return nil
}

// Seal ends the composition phase. Later registrations fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Card returns a copy of the card view registered under id.
func (r *Registry) Card(id card.ViewID) (card.CardView, error) {
	r.mu.RLock()
	v, ok := r.cards[id]
	r.mu.RUnlock()
	if !ok {
		return card.CardView{}, fmt.Errorf("%s view %q: %w", CardViews, id, ErrViewNotFound)
	}
	return v.Clone(), nil
}

// Quick returns a copy of the quick view registered under id.
func (r *Registry) Quick(id card.ViewID) (card.QuickView, error) {
	r.mu.RLock()
	v, ok := r.quicks[id]
	r.mu.RUnlock()
	if !ok {
		return card.QuickView{}, fmt.Errorf("%s view %q: %w", QuickViews, id, ErrViewNotFound)
	}
	return v.Clone(), nil
}

// HasCard reports whether a card view is registered under id.
func (r *Registry) HasCard(id card.ViewID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cards[id]
	return ok
}

// HasQuick reports whether a quick view is registered under id.
func (r *Registry) HasQuick(id card.ViewID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.quicks[id]
	return ok
}

// IDs lists the registered ids of a namespace, sorted.
func (r *Registry) IDs(ns Namespace) []card.ViewID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []card.ViewID
	switch ns {
	case CardViews:
		for id := range r.cards {
			ids = append(ids, id)
		}
	case QuickViews:
		for id := range r.quicks {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate checks that every navigation target declared by a registered card
// view or quick view template exists in the right namespace. All dangling
// references are reported.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]card.ViewID, 0, len(r.cards))
	for id := range r.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		v := r.cards[id]
		for _, a := range v.Actions() {
			target, ok := a.Target()
			if !ok {
				continue
			}
			switch a.Type {
			case card.ActionQuickView:
				if _, found := r.quicks[target]; !found {
					errs = append(errs, fmt.Errorf("card view %q references %s view %q: %w", id, QuickViews, target, ErrViewNotFound))
				}
			case card.ActionSubmit:
				if _, found := r.cards[target]; !found {
					errs = append(errs, fmt.Errorf("card view %q references %s view %q: %w", id, CardViews, target, ErrViewNotFound))
				}
			}
		}
	}

	quickIDs := make([]card.ViewID, 0, len(r.quicks))
	for id := range r.quicks {
		quickIDs = append(quickIDs, id)
	}
	sort.Slice(quickIDs, func(i, j int) bool { return quickIDs[i] < quickIDs[j] })
	for _, id := range quickIDs {
		for _, target := range TemplateTargets(r.quicks[id].Template) {
			if _, found := r.cards[target]; !found {
				errs = append(errs, fmt.Errorf("quick view %q references %s view %q: %w", id, CardViews, target, ErrViewNotFound))
			}
		}
	}
	return errors.Join(errs...)
}

// TemplateTargets returns the card views an Adaptive Card template navigates
// to through the data of its Action.Submit actions, in a stable order.
// Targets still holding a ${binding} are resolved per request and skipped.
func TemplateTargets(doc any) []card.ViewID {
	var out []card.ViewID
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			if t["type"] == "Action.Submit" {
				if data, ok := t["data"].(map[string]any); ok {
					if s, ok := data[card.ParamViewToNavigateTo].(string); ok && s != "" && !strings.Contains(s, "${") {
						out = append(out, card.ViewID(s))
					}
				}
			}
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(doc)
	return out
}
