// Package responder builds the replies for keyword groups. Each group ID maps to one
// Responder; the response handler runs every matched group's responder in order.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/dietfurt/kolpingbot/internal/content"
	"github.com/dietfurt/kolpingbot/internal/events"
	"github.com/dietfurt/kolpingbot/internal/intent"
	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/dietfurt/kolpingbot/internal/weather"
)

// Channel is the part of a channel service the responders talk to.
type Channel interface {
	SendTypingIndicator(ctx context.Context, to string, on bool) error
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// Request is one classified inbound event.
type Request struct {
	Event   models.InboundEvent
	Lowered string
	Channel Channel
}

// NewRequest lowercases the event text and binds the channel that will carry the reply.
func NewRequest(ev models.InboundEvent, ch Channel) Request {
	return Request{Event: ev, Lowered: strings.ToLower(ev.Text), Channel: ch}
}

// Responder produces the outbound messages for one keyword group.
type Responder interface {
	Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req Request) ([]models.OutboundMessage, error)

func (f ResponderFunc) Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error) {
	return f(ctx, req)
}

// Registry maps keyword group IDs to responders.
type Registry struct {
	mu         sync.RWMutex
	responders map[string]Responder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{responders: make(map[string]Responder)}
}

// Register binds r to the group id, replacing any previous binding.
func (r *Registry) Register(groupID string, resp Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responders[groupID] = resp
	slog.Debug("Registry.Register", "group", groupID)
}

// Get returns the responder bound to groupID.
func (r *Registry) Get(groupID string) (Responder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp, ok := r.responders[groupID]
	return resp, ok
}

// Deps are the collaborators of the built-in responders.
type Deps struct {
	Events      events.Source
	Weather     weather.Source
	WeatherCity string
}

// NewDefaultRegistry registers the built-in responders for the shipped group IDs.
// Responders whose collaborator is missing are left out.
func NewDefaultRegistry(c *content.Content, deps Deps) *Registry {
	reg := NewRegistry()
	reg.Register(intent.GroupGreeting, &Greeting{content: c})
	if deps.Events != nil {
		reg.Register(intent.GroupEvents, &Events{content: c, source: deps.Events})
	} else {
		slog.Warn("NewDefaultRegistry: no event source configured, events group disabled")
	}
	if deps.Weather != nil {
		reg.Register(intent.GroupWeather, &Weather{content: c, source: deps.Weather, city: deps.WeatherCity})
	} else {
		slog.Warn("NewDefaultRegistry: no weather source configured, weather group disabled")
	}
	reg.Register(intent.GroupBoard, &Board{content: c})
	reg.Register(intent.GroupRegistration, &Registration{content: c})
	return reg
}

// withTyping shows the typing indicator while fn runs. Indicator failures are only logged.
func withTyping(ctx context.Context, req Request, fn func() error) error {
	if req.Channel == nil {
		return fn()
	}
	to := req.Event.SenderID
	if err := req.Channel.SendTypingIndicator(ctx, to, true); err != nil {
		slog.Debug("responder: typing on failed", "to", to, "error", err)
	}
	defer func() {
		if err := req.Channel.SendTypingIndicator(ctx, to, false); err != nil {
			slog.Debug("responder: typing off failed", "to", to, "error", err)
		}
	}()
	return fn()
}

// Greeting greets the participant by first name.
type Greeting struct {
	content *content.Content
}

func (g *Greeting) Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error) {
	if req.Channel == nil {
		return nil, fmt.Errorf("greeting: no channel to look up profile")
	}
	var profile models.Profile
	err := withTyping(ctx, req, func() error {
		var err error
		profile, err = req.Channel.GetProfile(ctx, req.Event.SenderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("greeting: profile lookup failed: %w", err)
	}
	text, err := g.content.Render(content.TextGreeting, map[string]any{
		"first_name": profile.FirstName,
		"last_name":  profile.LastName,
	})
	if err != nil {
		return nil, err
	}
	return []models.OutboundMessage{models.Text(text)}, nil
}

// Events lists upcoming events. The more-marker switches to the extended window.
type Events struct {
	content *content.Content
	source  events.Source
}

func (e *Events) Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error) {
	var list []models.Event
	err := withTyping(ctx, req, func() error {
		var err error
		list, err = e.source.Events(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("events: fetch failed: %w", err)
	}

	offset, limit := 0, e.content.Events.Limit
	if intent.Contains(req.Lowered, e.content.MoreMarker) {
		offset, limit = e.content.Events.MoreOffset, e.content.Events.MoreLimit
	}
	entries := make([]models.ListEntry, 0, len(list))
	for _, ev := range list {
		entries = append(entries, models.ListEntry{
			Title:    ev.Title,
			Subtitle: ev.Date,
			URL:      ev.URL,
			ImageURL: ev.Image,
		})
	}
	window := models.List(entries, offset, limit)
	slog.Debug("Events.Respond", "total", len(entries), "offset", offset, "limit", limit, "shown", len(window.Entries))

	if len(window.Entries) == 0 {
		text, err := e.content.Render(content.TextEventsEmpty, nil)
		if err != nil {
			return nil, err
		}
		return []models.OutboundMessage{models.Text(text)}, nil
	}
	lead, err := e.content.Render(content.TextEventsLead, nil)
	if err != nil {
		return nil, err
	}
	return []models.OutboundMessage{models.Text(lead), window}, nil
}

// Weather reports the current conditions for the configured city.
type Weather struct {
	content *content.Content
	source  weather.Source
	city    string
}

func (w *Weather) Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error) {
	var cur models.Weather
	err := withTyping(ctx, req, func() error {
		var err error
		cur, err = w.source.Current(ctx, w.city)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("weather: lookup failed: %w", err)
	}
	text, err := w.content.Render(content.TextWeather, map[string]any{
		"city":        w.city,
		"description": cur.Description,
		"temp_min":    formatTemp(cur.TempMin),
		"temp_max":    formatTemp(cur.TempMax),
	})
	if err != nil {
		return nil, err
	}
	return []models.OutboundMessage{models.Text(text)}, nil
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Board sends the fixed board-member texts.
type Board struct {
	content *content.Content
}

func (b *Board) Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error) {
	out := make([]models.OutboundMessage, 0, len(b.content.Texts.Board))
	for _, t := range b.content.Texts.Board {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, models.Text(t))
	}
	return out, nil
}

// Registration asks whether the participant wants to start the registration dialog.
type Registration struct {
	content *content.Content
}

func (r *Registration) Respond(ctx context.Context, req Request) ([]models.OutboundMessage, error) {
	text, err := r.content.Render(content.TextRegistrationPrompt, nil)
	if err != nil {
		return nil, err
	}
	return []models.OutboundMessage{models.ButtonPrompt(text,
		models.Button{Label: r.content.Labels.Accept, Token: r.content.Tokens.Start},
		models.Button{Label: r.content.Labels.Reject, Token: r.content.Tokens.Decline},
	)}, nil
}
