package ace

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/catalog"
	"github.com/rmax-ai/acebot/pkg/graph"
)

// DataSource computes the data of a dynamic quick view for a signed-in
// caller.
type DataSource interface {
	Fetch(ctx context.Context, st auth.State, def catalog.QuickViewDef) (map[string]any, error)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func(ctx context.Context, st auth.State, def catalog.QuickViewDef) (map[string]any, error)

func (f DataSourceFunc) Fetch(ctx context.Context, st auth.State, def catalog.QuickViewDef) (map[string]any, error) {
	return f(ctx, st, def)
}

// DefaultMessageCount is used when a quick view names no count.
const DefaultMessageCount = 10

// MessageDateLayout formats message timestamps on quick views.
const MessageDateLayout = "2006-01-02 15:04"

// RecentMessages lists the caller's newest messages as
// {user, empty, emails: [{date, from, subject}]}.
func RecentMessages(dir graph.Directory) DataSource {
	return DataSourceFunc(func(ctx context.Context, st auth.State, def catalog.QuickViewDef) (map[string]any, error) {
		count := def.Count
		if count <= 0 {
			count = DefaultMessageCount
		}

		var (
			user graph.User
			msgs []graph.Message
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			user, err = dir.CurrentUser(gctx, st.Token)
			return err
		})
		g.Go(func() error {
			var err error
			msgs, err = dir.RecentMessages(gctx, st.Token, count)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("recent messages: %w", err)
		}

		emails := make([]map[string]any, 0, len(msgs))
		for _, m := range msgs {
			emails = append(emails, map[string]any{
				"date":    m.ReceivedAt.UTC().Format(MessageDateLayout),
				"from":    m.From,
				"subject": m.Subject,
			})
		}
		return map[string]any{
			"user":   user.DisplayName,
			"empty":  len(emails) == 0,
			"emails": emails,
		}, nil
	})
}
