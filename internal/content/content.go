// Package content loads the bot's conversational content: keyword groups, reply texts,
// action tokens and list windows. Texts are liquid templates rendered with per-reply bindings.
package content

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dietfurt/kolpingbot/internal/intent"
	"github.com/osteele/liquid"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultContent []byte

// Template names accepted by Render.
const (
	TextGreeting             = "greeting"
	TextEventsLead           = "events_lead"
	TextEventsEmpty          = "events_empty"
	TextWeather              = "weather"
	TextRegistrationPrompt   = "registration_prompt"
	TextRegistrationDeclined = "registration_declined"
	TextAskFirstName         = "ask_first_name"
	TextAskLastName          = "ask_last_name"
	TextAskAge               = "ask_age"
	TextAskSwimmer           = "ask_swimmer"
	TextRegistered           = "registered"
)

// Tokens are the postback payloads carried by buttons.
type Tokens struct {
	Start   string `yaml:"start"`
	Decline string `yaml:"decline"`
	SwimYes string `yaml:"swim_yes"`
	SwimNo  string `yaml:"swim_no"`
}

// Labels are the visible captions of buttons.
type Labels struct {
	Accept   string `yaml:"accept"`
	Reject   string `yaml:"reject"`
	MoreInfo string `yaml:"more_info"`
}

// EventWindow bounds the event list: Limit items by default, MoreLimit items from
// MoreOffset when the user asks for more.
type EventWindow struct {
	Limit      int `yaml:"limit"`
	MoreOffset int `yaml:"more_offset"`
	MoreLimit  int `yaml:"more_limit"`
}

type Texts struct {
	Greeting             string   `yaml:"greeting"`
	EventsLead           string   `yaml:"events_lead"`
	EventsEmpty          string   `yaml:"events_empty"`
	Weather              string   `yaml:"weather"`
	Board                []string `yaml:"board"`
	RegistrationPrompt   string   `yaml:"registration_prompt"`
	RegistrationDeclined string   `yaml:"registration_declined"`
	AskFirstName         string   `yaml:"ask_first_name"`
	AskLastName          string   `yaml:"ask_last_name"`
	AskAge               string   `yaml:"ask_age"`
	AskSwimmer           string   `yaml:"ask_swimmer"`
	Registered           string   `yaml:"registered"`
}

// Content is the full conversational configuration.
type Content struct {
	Groups     []intent.Group `yaml:"groups"`
	Tokens     Tokens         `yaml:"tokens"`
	Labels     Labels         `yaml:"labels"`
	MoreMarker string         `yaml:"more_marker"`
	Events     EventWindow    `yaml:"events"`
	Texts      Texts          `yaml:"texts"`

	templates map[string]*liquid.Template
}

// Default returns the embedded content.
func Default() (*Content, error) {
	return Parse(nil)
}

// Load reads content from path layered over the embedded defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Content, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("content file %s: %w", path, err)
	}
	slog.Debug("Content loaded", "path", path, "groups", len(c.Groups))
	return c, nil
}

// Parse decodes override YAML on top of the embedded defaults and compiles all templates.
func Parse(override []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(defaultContent, &c); err != nil {
		return nil, fmt.Errorf("failed to parse embedded content: %w", err)
	}
	if len(override) > 0 {
		if err := yaml.Unmarshal(override, &c); err != nil {
			return nil, fmt.Errorf("failed to parse content: %w", err)
		}
	}
	c.normalize()
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Content) normalize() {
	for i := range c.Groups {
		kws := make([]string, 0, len(c.Groups[i].Keywords))
		for _, kw := range c.Groups[i].Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		c.Groups[i].Keywords = kws
	}
	c.MoreMarker = strings.ToLower(strings.TrimSpace(c.MoreMarker))
}

func (c *Content) validate() error {
	seen := make(map[string]bool)
	for _, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("keyword group without id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate keyword group %q", g.ID)
		}
		seen[g.ID] = true
	}
	tokens := []string{c.Tokens.Start, c.Tokens.Decline, c.Tokens.SwimYes, c.Tokens.SwimNo}
	distinct := make(map[string]bool)
	for _, tok := range tokens {
		if tok == "" {
			return fmt.Errorf("action tokens must not be empty")
		}
		distinct[tok] = true
	}
	if len(distinct) != len(tokens) {
		return fmt.Errorf("action tokens must be distinct")
	}
	if c.Events.Limit <= 0 || c.Events.MoreLimit <= 0 || c.Events.MoreOffset < 0 {
		return fmt.Errorf("invalid events window %+v", c.Events)
	}
	return nil
}

func (c *Content) sources() map[string]string {
	return map[string]string{
		TextGreeting:             c.Texts.Greeting,
		TextEventsLead:           c.Texts.EventsLead,
		TextEventsEmpty:          c.Texts.EventsEmpty,
		TextWeather:              c.Texts.Weather,
		TextRegistrationPrompt:   c.Texts.RegistrationPrompt,
		TextRegistrationDeclined: c.Texts.RegistrationDeclined,
		TextAskFirstName:         c.Texts.AskFirstName,
		TextAskLastName:          c.Texts.AskLastName,
		TextAskAge:               c.Texts.AskAge,
		TextAskSwimmer:           c.Texts.AskSwimmer,
		TextRegistered:           c.Texts.Registered,
	}
}

func (c *Content) compile() error {
	engine := liquid.NewEngine()
	c.templates = make(map[string]*liquid.Template)
	for name, src := range c.sources() {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("text %q must not be empty", name)
		}
		tpl, err := engine.ParseString(src)
		if err != nil {
			return fmt.Errorf("text %q: %w", name, err)
		}
		c.templates[name] = tpl
	}
	return nil
}

// Render renders the named text with the given bindings.
func (c *Content) Render(name string, bindings map[string]any) (string, error) {
	tpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown text %q", name)
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		slog.Error("Content.Render: render failed", "text", name, "error", err)
		return "", fmt.Errorf("render %q: %w", name, err)
	}
	return out, nil
}

// Group returns the keyword group with the given id.
func (c *Content) Group(id string) (intent.Group, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return intent.Group{}, false
}
