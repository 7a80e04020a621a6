package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rmax-ai/acebot/pkg/card"
	"github.com/rmax-ai/acebot/pkg/client"
)

// Config
const (
	pollRate       = 5 * time.Second
	requestTimeout = 5 * time.Second
	viewportHeight = 14
	paneWidth      = 72
)

type tickMsg time.Time

type cardMsg struct {
	view card.CardView
	err  error
}

type quickMsg struct {
	view card.QuickView
	err  error
}

type actionMsg struct {
	id   string
	resp client.ActionResponse
	err  error
}

// model simulates a host rendering one caller's card. Card buttons and
// quick view submits are pressed with the number keys.
type model struct {
	c        *client.Client
	spinner  spinner.Model
	viewport viewport.Model
	field    textinput.Model

	card   *card.CardView
	quick  *card.QuickView
	values map[string]string
	// target is the index into inputs() the field edits.
	target int

	status  string
	err     error
	pending bool
	ready   bool
}

func initialModel(c *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(paneWidth, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = paneWidth - 10

	return model{
		c:        c,
		spinner:  s,
		viewport: vp,
		field:    ti,
		values:   make(map[string]string),
		pending:  true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchCard(m.c, ""),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.field.Focused() {
			return m.updateField(msg)
		}
		return m.handleKey(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		// Refresh only an idle card; an open quick view keeps its data.
		if m.quick == nil && !m.pending && !m.field.Focused() {
			cmds = append(cmds, fetchCard(m.c, ""))
		}
		cmds = append(cmds, tick())

	case cardMsg:
		m.pending = false
		m.ready = true
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.showCard(msg.view)

	case quickMsg:
		m.pending = false
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.showQuick(msg.view)

	case actionMsg:
		m.pending = false
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.applyAction(msg)

	case tea.WindowSizeMsg:
		m.viewport.Width = min(msg.Width, paneWidth)
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.pending = true
		m.quick = nil
		return m, fetchCard(m.c, "")
	case "esc":
		if m.quick != nil {
			m.quick = nil
			m.refresh()
		}
		return m, nil
	case "i", "tab":
		ins := m.inputs()
		if len(ins) == 0 {
			return m, nil
		}
		if key == "tab" {
			m.target = (m.target + 1) % len(ins)
		}
		m.target = min(m.target, len(ins)-1)
		in := ins[m.target]
		m.field.Placeholder = in.Placeholder
		m.field.Prompt = in.ID + ": "
		m.field.SetValue(m.values[in.ID])
		return m, m.field.Focus()
	case "l":
		if m.card == nil || m.card.AceData.Properties["uri"] == nil {
			m.status = "Nothing to sign in to"
			return m, nil
		}
		m.pending = true
		link, _ := m.card.AceData.Properties["uri"].(string)
		return m, signIn(m.c, link)
	case "enter":
		if m.quick == nil && m.card != nil && m.card.OnCardSelection != nil {
			return m.press(card.Component{ID: "", Action: m.card.OnCardSelection})
		}
		return m, nil
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		n := int(key[0] - '1')
		if m.quick != nil {
			q := flattenQuick(m.quick, m.values)
			if n < len(q.submits) {
				s := q.submits[n]
				m.pending = true
				return m, doAction(m.c, s.ID, formData(s.Data, q.inputs, m.values))
			}
			return m, nil
		}
		if m.card != nil {
			if bs := buttons(m.card); n < len(bs) {
				return m.press(bs[n])
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) updateField(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		ins := m.inputs()
		if m.target < len(ins) {
			m.values[ins[m.target].ID] = strings.TrimSpace(m.field.Value())
		}
		m.field.Blur()
		m.refresh()
		return m, nil
	case "esc":
		m.field.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.field, cmd = m.field.Update(msg)
	return m, cmd
}

// press triggers the action of a card component.
func (m model) press(c card.Component) (tea.Model, tea.Cmd) {
	switch c.Action.Type {
	case card.ActionQuickView:
		id, ok := c.Action.Target()
		if !ok {
			m.status = "Button opens no quick view"
			return m, nil
		}
		m.pending = true
		return m, fetchQuick(m.c, id)
	case card.ActionSubmit:
		if c.ID == "" {
			m.status = "Card selection submits nothing"
			return m, nil
		}
		m.pending = true
		return m, doAction(m.c, c.ID, formData(c.Action.Parameters, cardInputs(m.card), m.values))
	case card.ActionExternalLink:
		m.status = fmt.Sprintf("Would open %v", c.Action.Parameters["target"])
		return m, nil
	}
	m.status = fmt.Sprintf("Unsupported action type %q", c.Action.Type)
	return m, nil
}

func (m *model) inputs() []input {
	if m.quick != nil {
		return flattenQuick(m.quick, m.values).inputs
	}
	if m.card != nil {
		return cardInputs(m.card)
	}
	return nil
}

func (m *model) showCard(v card.CardView) {
	if m.card == nil || m.card.ViewID != v.ViewID {
		m.values = make(map[string]string)
		m.target = 0
	}
	m.card = &v
	m.quick = nil
	m.refresh()
}

func (m *model) showQuick(v card.QuickView) {
	m.quick = &v
	m.values = make(map[string]string)
	m.target = 0
	m.refresh()
}

func (m *model) applyAction(msg actionMsg) {
	switch msg.resp.ResponseType {
	case card.ResponseCard:
		v, err := msg.resp.Card()
		if err != nil {
			m.err = err
			return
		}
		m.status = fmt.Sprintf("%s → %s", msg.id, v.ViewID)
		m.showCard(v)
	case card.ResponseQuickView:
		v, err := msg.resp.QuickView()
		if err != nil {
			m.err = err
			return
		}
		m.status = fmt.Sprintf("%s → %s", msg.id, v.ViewID)
		m.showQuick(v)
	default:
		m.status = fmt.Sprintf("%s → %s", msg.id, msg.resp.ResponseType)
	}
}

func (m *model) refresh() {
	if m.quick != nil {
		m.viewport.SetContent(flattenQuick(m.quick, m.values).render(m.quick.Title))
		return
	}
	m.viewport.SetContent(subtleStyle.Render("No quick view open."))
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}

	var top string
	if m.card != nil {
		top = paneStyle.Width(paneWidth).Render(renderCard(m.card, m.values))
	} else {
		top = paneStyle.Width(paneWidth).Render(subtleStyle.Render("No card."))
	}

	parts := []string{top, m.viewport.View()}
	if m.field.Focused() {
		parts = append(parts, m.field.View())
	}

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	case m.pending:
		status = m.spinner.View() + " working"
	case m.status != "":
		status = okStyle.Render(m.status)
	default:
		status = okStyle.Render("Online")
	}
	help := "1-9 press • enter select • i/tab edit field • l sign in • esc close • r refresh • q quit"
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("\n%s\n%s", status, help)))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Commands

func fetchCard(c *client.Client, magicCode string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		v, err := c.CardView(ctx, magicCode)
		return cardMsg{view: v, err: err}
	}
}

func fetchQuick(c *client.Client, id card.ViewID) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		v, err := c.QuickView(ctx, id, nil)
		return quickMsg{view: v, err: err}
	}
}

func doAction(c *client.Client, id string, data map[string]any) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := c.Action(ctx, id, data)
		return actionMsg{id: id, resp: resp, err: err}
	}
}

// signIn redeems a dev sign-in link and presents the magic code.
func signIn(c *client.Client, link string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if link == "" {
			return cardMsg{err: errors.New("card has no sign-in link")}
		}
		code, err := c.DevSignIn(ctx, link)
		if err != nil {
			return cardMsg{err: err}
		}
		v, err := c.CardView(ctx, code)
		return cardMsg{view: v, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	var endpoint, caller, channel string
	cmd := &cobra.Command{
		Use:   "acebot-tui",
		Short: "Render acebot cards in the terminal as a host would",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if caller == "" {
				return errors.New("--caller is required")
			}
			c := client.NewClient(endpoint).As(client.Caller{ID: caller, Channel: channel})
			p := tea.NewProgram(initialModel(c), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", client.DefaultEndpoint, "daemon URL")
	cmd.Flags().StringVar(&caller, "caller", os.Getenv("USER"), "caller id")
	cmd.Flags().StringVar(&channel, "channel", "tui", "host channel")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
