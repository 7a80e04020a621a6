package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/client"
)

// mismatchError marks a journey that got a view meant for someone else, or
// a view without its own state.
type mismatchError struct {
	reason string
}

func (e *mismatchError) Error() string { return "mismatch: " + e.reason }

func mismatch(format string, args ...any) error {
	return &mismatchError{reason: fmt.Sprintf(format, args...)}
}

// user is one simulated host session. Its journeys run one at a time.
type user struct {
	id    string
	cfg   UserConfig
	c     *client.Client
	roles client.Roles
	rng   *rand.Rand
	// sent is called once per request.
	sent func()
}

func (u *user) run(ctx context.Context) error {
	switch u.cfg.Journey {
	case JourneyCapture:
		return u.capture(ctx)
	case JourneyBrowse:
		return u.browse(ctx)
	default:
		return u.signIn(ctx)
	}
}

func (u *user) cardView(ctx context.Context, magicCode string) (card.CardView, error) {
	u.sent()
	return u.c.CardView(ctx, magicCode)
}

func (u *user) action(ctx context.Context, id string, data map[string]any) (card.CardView, error) {
	u.sent()
	resp, err := u.c.Action(ctx, id, data)
	if err != nil {
		return card.CardView{}, err
	}
	return resp.Card()
}

func (u *user) signIn(ctx context.Context) error {
	view, err := u.cardView(ctx, "")
	if err != nil {
		return err
	}
	if link, _ := view.AceData.Properties["uri"].(string); link != "" {
		u.sent()
		code, err := u.c.DevSignIn(ctx, link)
		if err != nil {
			return fmt.Errorf("redeem sign-in link: %w", err)
		}
		if view, err = u.cardView(ctx, code); err != nil {
			return err
		}
	}
	if view.ViewID != u.roles.Home {
		return mismatch("signed in to %s, want %s", view.ViewID, u.roles.Home)
	}
	// The UPN is "<id>@<domain>", so sim-1 never matches sim-10.
	if !strings.Contains(cardText(view), u.id+"@") {
		return mismatch("home card does not name %s", u.id)
	}

	signOut := u.cfg.SignOutAction
	if signOut == "" {
		signOut = "SignOut"
	}
	after, err := u.action(ctx, signOut, nil)
	if err != nil {
		return err
	}
	if after.ViewID == u.roles.Home {
		return mismatch("still on %s after sign-out", after.ViewID)
	}
	return nil
}

func (u *user) capture(ctx context.Context) error {
	view, err := u.cardView(ctx, "")
	if err != nil {
		return err
	}
	var field string
	var button *card.Component
	for _, c := range view.Parameters.Components() {
		switch {
		case c.Name == card.ComponentTextInput && field == "":
			field = c.ID
		case c.Action != nil && c.Action.Type == card.ActionSubmit && button == nil:
			button = c
		}
	}
	if field == "" || button == nil {
		return fmt.Errorf("card %s has no text input to submit", view.ViewID)
	}

	value := fmt.Sprintf("%s:%08x", u.id, u.rng.Uint32())
	data := map[string]any{field: value}
	for k, v := range button.Action.Parameters {
		data[k] = v
	}
	next, err := u.action(ctx, button.ID, data)
	if err != nil {
		return err
	}
	if !strings.Contains(cardText(next), value) {
		return mismatch("%s does not echo %q", next.ViewID, value)
	}
	return nil
}

func (u *user) browse(ctx context.Context) error {
	view, err := u.cardView(ctx, "")
	if err != nil {
		return err
	}
	for _, a := range view.Actions() {
		if a.Type != card.ActionQuickView {
			continue
		}
		id, ok := a.Target()
		if !ok {
			continue
		}
		u.sent()
		qv, err := u.c.QuickView(ctx, id, nil)
		if err != nil {
			return err
		}
		if qv.ViewID != id {
			return mismatch("asked for quick view %s, got %s", id, qv.ViewID)
		}
	}
	return nil
}

// cardText joins every text a card view shows.
func cardText(v card.CardView) string {
	var sb strings.Builder
	for _, c := range v.Parameters.Components() {
		sb.WriteString(c.Title)
		sb.WriteByte('\n')
		sb.WriteString(c.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
