// Package card holds the render payloads exchanged with the host: card views,
// quick views, their components and the response envelopes.
package card

// ViewID identifies a card view or a quick view. The two kinds live in
// separate namespaces, so the same value may name one of each.
type ViewID string

// Card view layouts understood by the host.
const (
	ViewTypeBasic       = "text"
	ViewTypePrimaryText = "primaryText"
	ViewTypeImage       = "image"
	ViewTypeTextInput   = "textInput"
	ViewTypeSignIn      = "signIn"
	ViewTypeSignInSSO   = "signInSso"
)

// Component names.
const (
	ComponentCardBar   = "cardBar"
	ComponentText      = "text"
	ComponentTextInput = "textInput"
	ComponentButton    = "cardButton"
	ComponentSearchBox = "searchBox"
)

// Action types.
const (
	ActionSubmit       = "Submit"
	ActionQuickView    = "QuickView"
	ActionExternalLink = "ExternalLink"
)

// Well-known action parameter keys.
const (
	ParamViewToNavigateTo = "viewToNavigateTo"
	ParamView             = "view"
)

// Card sizes.
const (
	SizeMedium = "Medium"
	SizeLarge  = "Large"
)

// AceData is the metadata block shared by the views of one extension.
type AceData struct {
	ID           string         `json:"id,omitempty" yaml:"id,omitempty"`
	Title        string         `json:"title,omitempty" yaml:"title,omitempty"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	CardSize     string         `json:"cardSize,omitempty" yaml:"cardSize,omitempty"`
	IconProperty string         `json:"iconProperty,omitempty" yaml:"iconProperty,omitempty"`
	DataVersion  string         `json:"dataVersion,omitempty" yaml:"dataVersion,omitempty"`
	Properties   map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Action is what a button or a card selection triggers.
type Action struct {
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Target returns the view the action navigates to, if it declares one.
// Submit actions name a card view, QuickView actions name a quick view.
func (a *Action) Target() (ViewID, bool) {
	if a == nil {
		return "", false
	}
	key := ParamViewToNavigateTo
	if a.Type == ActionQuickView {
		key = ParamView
	}
	v, ok := a.Parameters[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return ViewID(v), true
}

// Component is one element of a card view region.
type Component struct {
	Name        string  `json:"componentName" yaml:"componentName"`
	ID          string  `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string  `json:"title,omitempty" yaml:"title,omitempty"`
	Text        string  `json:"text,omitempty" yaml:"text,omitempty"`
	Placeholder string  `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Icon        string  `json:"icon,omitempty" yaml:"icon,omitempty"`
	Action      *Action `json:"action,omitempty" yaml:"action,omitempty"`
}

// Image is the optional picture of image card views.
type Image struct {
	URL     string `json:"url" yaml:"url"`
	AltText string `json:"altText,omitempty" yaml:"altText,omitempty"`
}

// CardViewParameters are the header, body and footer regions of a card view.
type CardViewParameters struct {
	Type    string      `json:"cardViewType" yaml:"cardViewType"`
	CardBar []Component `json:"cardBar,omitempty" yaml:"cardBar,omitempty"`
	Header  []Component `json:"header,omitempty" yaml:"header,omitempty"`
	Body    []Component `json:"body,omitempty" yaml:"body,omitempty"`
	Footer  []Component `json:"footer,omitempty" yaml:"footer,omitempty"`
	Image   *Image      `json:"image,omitempty" yaml:"image,omitempty"`
}

// Components returns every component of the card in display order.
func (p *CardViewParameters) Components() []*Component {
	var out []*Component
	for _, region := range [][]Component{p.CardBar, p.Header, p.Body, p.Footer} {
		for i := range region {
			out = append(out, &region[i])
		}
	}
	return out
}

// CardView is the full-panel render payload.
type CardView struct {
	ViewID          ViewID             `json:"viewId" yaml:"viewId"`
	AceData         AceData            `json:"aceData" yaml:"aceData"`
	Parameters      CardViewParameters `json:"cardViewParameters" yaml:"cardViewParameters"`
	OnCardSelection *Action            `json:"onCardSelection,omitempty" yaml:"onCardSelection,omitempty"`
}

// Actions returns the actions of every button plus the card selection action.
func (c *CardView) Actions() []*Action {
	var out []*Action
	for _, comp := range c.Parameters.Components() {
		if comp.Action != nil {
			out = append(out, comp.Action)
		}
	}
	if c.OnCardSelection != nil {
		out = append(out, c.OnCardSelection)
	}
	return out
}

// ExternalLink makes a quick view open a URL instead of rendering.
type ExternalLink struct {
	IsTeamsDeepLink bool   `json:"isTeamsDeepLink,omitempty" yaml:"isTeamsDeepLink,omitempty"`
	Target          string `json:"target" yaml:"target"`
}

// FocusParameters tell the host which element of a quick view gets focus.
type FocusParameters struct {
	FocusTarget string `json:"focusTarget,omitempty" yaml:"focusTarget,omitempty"`
	AriaLive    string `json:"ariaLive,omitempty" yaml:"ariaLive,omitempty"`
}

// QuickView is the on-demand detail panel. Template is an Adaptive Card
// document.
type QuickView struct {
	ViewID          ViewID           `json:"viewId" yaml:"viewId"`
	Title           string           `json:"title" yaml:"title"`
	Template        map[string]any   `json:"template" yaml:"template"`
	Data            map[string]any   `json:"data,omitempty" yaml:"data,omitempty"`
	ExternalLink    *ExternalLink    `json:"externalLink,omitempty" yaml:"externalLink,omitempty"`
	FocusParameters *FocusParameters `json:"focusParameters,omitempty" yaml:"focusParameters,omitempty"`
}

// Response types of a handled action.
const (
	ResponseCard      = "Card"
	ResponseQuickView = "QuickView"
)

// ActionResponse is the envelope returned for a handled action.
type ActionResponse struct {
	ResponseType    string `json:"responseType"`
	RenderArguments any    `json:"renderArguments,omitempty"`
}

// CardResponse wraps a card view in an action envelope.
func CardResponse(v CardView) ActionResponse {
	return ActionResponse{ResponseType: ResponseCard, RenderArguments: v}
}

// QuickViewResponse wraps a quick view in an action envelope.
func QuickViewResponse(v QuickView) ActionResponse {
	return ActionResponse{ResponseType: ResponseQuickView, RenderArguments: v}
}
