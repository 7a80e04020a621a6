package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/client"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			fmt.Fprintln(os.Stderr, "Is acebot-d running?")
		}
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ACEBOT")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "acebot",
		Short:         "Talk to acebot-d as a card host would",
		Version:       fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("endpoint", client.DefaultEndpoint, "daemon URL (env ACEBOT_ENDPOINT)")
	root.PersistentFlags().String("caller", "", "caller id (env ACEBOT_CALLER)")
	root.PersistentFlags().String("channel", "cli", "host channel (env ACEBOT_CHANNEL)")
	root.PersistentFlags().Duration("timeout", 15*time.Second, "request timeout")
	_ = v.BindPFlag("endpoint", root.PersistentFlags().Lookup("endpoint"))
	_ = v.BindPFlag("caller", root.PersistentFlags().Lookup("caller"))
	_ = v.BindPFlag("channel", root.PersistentFlags().Lookup("channel"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	newClient := func(needCaller bool) (*client.Client, error) {
		c := client.NewClient(v.GetString("endpoint"))
		if !needCaller {
			return c, nil
		}
		id := strings.TrimSpace(v.GetString("caller"))
		if id == "" {
			return nil, errors.New("--caller is required")
		}
		return c.As(client.Caller{ID: id, Channel: v.GetString("channel")}), nil
	}
	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	}

	var magicCode string
	cardView := &cobra.Command{
		Use:   "cardview",
		Short: "Show the card the caller currently sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(true)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			view, err := c.CardView(ctx, magicCode)
			if err != nil {
				return err
			}
			return printJSON(out, view)
		},
	}
	cardView.Flags().StringVar(&magicCode, "magic-code", "", "complete a pending sign-in first")

	var quickJSON string
	var quickFields []string
	quickView := &cobra.Command{
		Use:   "quickview <view-id>",
		Short: "Show a quick view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseData(quickJSON, quickFields)
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			view, err := c.QuickView(ctx, card.ViewID(args[0]), data)
			if err != nil {
				return err
			}
			return printJSON(out, view)
		},
	}
	quickView.Flags().StringVar(&quickJSON, "data", "", "quick view data as a JSON object")
	quickView.Flags().StringArrayVar(&quickFields, "set", nil, "quick view data field key=value, repeatable")

	var dataJSON string
	var fields []string
	action := &cobra.Command{
		Use:   "action <action-id>",
		Short: "Press a button",
		Example: `  acebot action OkError --set viewToNavigateTo=HOME_CARD_VIEW
  acebot action SubmitFeedback --data '{"feedback": "great"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseData(dataJSON, fields)
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := c.Action(ctx, args[0], data)
			if err != nil {
				return err
			}
			return printJSON(out, resp)
		},
	}
	action.Flags().StringVar(&dataJSON, "data", "", "action data as a JSON object")
	action.Flags().StringArrayVar(&fields, "set", nil, "action data field key=value, repeatable")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the views and actions the daemon serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(false)
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			cat, err := c.Catalog(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, cat)
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(false)
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			st, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "acebot-d: %s\n", st.Status)
			return nil
		},
	}

	signIn := &cobra.Command{
		Use:   "signin",
		Short: "Sign the caller in through the dev identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(true)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			view, err := signInFlow(ctx, c)
			if err != nil {
				return err
			}
			return printJSON(out, view)
		},
	}

	root.AddCommand(cardView, quickView, action, catalogCmd, health, signIn)
	return root
}

// signInFlow follows the sign-in link of the caller's card, redeems it for
// a magic code and presents the code on the next card view request.
func signInFlow(ctx context.Context, c *client.Client) (card.CardView, error) {
	view, err := c.CardView(ctx, "")
	if err != nil {
		return card.CardView{}, err
	}
	link, _ := view.AceData.Properties["uri"].(string)
	if link == "" {
		return view, errors.New("card has no sign-in link; already signed in?")
	}
	code, err := c.DevSignIn(ctx, link)
	if err != nil {
		return card.CardView{}, fmt.Errorf("failed to redeem sign-in link: %w", err)
	}
	return c.CardView(ctx, code)
}

// parseData merges a JSON object with key=value fields. Values that parse
// as numbers or booleans keep that type.
func parseData(raw string, fields []string) (map[string]any, error) {
	data := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("--data is not a JSON object: %w", err)
		}
	}
	for _, f := range fields {
		k, val, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", f)
		}
		data[k] = scalar(val)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func scalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
