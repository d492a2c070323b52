// Package dialog runs the multi-step registration conversation.
//
// The Engine owns per-user dialog state through an injected session store. For every
// inbound event it either advances the user's active dialog, starts one on the start
// token, or reports that it did not handle the event so the caller can run keyword
// classification instead.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dietfurt/kolpingbot/internal/content"
	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/dietfurt/kolpingbot/internal/store"
)

// Outcome is the result of Engine.Handle.
type Outcome struct {
	// Handled is false when the user has no dialog and the input did not start one.
	Handled  bool
	Messages []models.OutboundMessage
	// Completed is set when the event finished a registration.
	Completed *models.Registration
}

// Engine is the registration dialog state machine.
type Engine struct {
	sessions store.SessionStore
	sink     store.RegistrationRepo
	locker   Locker
	content  *content.Content
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process KeyedMutex.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithRegistrationSink stores completed registrations.
func WithRegistrationSink(repo store.RegistrationRepo) Option {
	return func(e *Engine) { e.sink = repo }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over the given session store and content.
func NewEngine(sessions store.SessionStore, c *content.Content, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		locker:   NewKeyedMutex(),
		content:  c,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	slog.Debug("Engine created", "sink", e.sink != nil)
	return e
}

// Handle processes one inbound event for its sender. The per-user lock is held for the
// whole read-modify-write, so events of one user are applied one at a time.
func (e *Engine) Handle(ctx context.Context, ev models.InboundEvent) (Outcome, error) {
	userID := ev.SenderID
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	persisted, err := e.sessions.GetDialogState(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load dialog state: %w", err)
	}

	token := ev.Input()
	var current step
	createdAt := e.now()
	if persisted != nil {
		current, err = decodeState(*persisted)
		if err != nil {
			slog.Warn("Engine.Handle: discarding corrupt dialog state", "userID", userID, "error", err)
			if derr := e.sessions.DeleteDialogState(ctx, userID); derr != nil {
				return Outcome{}, fmt.Errorf("delete corrupt dialog state: %w", derr)
			}
			current = nil
		} else {
			createdAt = persisted.CreatedAt
		}
	}

	tokens := e.content.Tokens
	if current == nil {
		switch token {
		case tokens.Start:
			slog.Info("Engine.Handle: registration started", "userID", userID, "event_id", ev.ID)
			return e.transition(ctx, userID, awaitingFirstName{}, e.now())
		case tokens.Decline:
			text, err := e.content.Render(content.TextRegistrationDeclined, nil)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Handled: true, Messages: []models.OutboundMessage{models.Text(text)}}, nil
		default:
			return Outcome{Handled: false}, nil
		}
	}

	if token == tokens.Start {
		slog.Info("Engine.Handle: registration restarted", "userID", userID, "from_step", current.dialogStep())
		return e.transition(ctx, userID, awaitingFirstName{}, e.now())
	}

	if _, finishing := current.(awaitingSwimmer); token == "" && !finishing {
		// Nothing to store; repeat the question of the current step. The swim question
		// accepts any answer, so an empty one completes as unknown.
		slog.Debug("Engine.Handle: empty input during dialog", "userID", userID, "step", current.dialogStep())
		msgs, err := e.prompt(current)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Handled: true, Messages: msgs}, nil
	}

	switch s := current.(type) {
	case awaitingFirstName:
		return e.transition(ctx, userID, awaitingLastName{firstName: token}, createdAt)
	case awaitingLastName:
		return e.transition(ctx, userID, awaitingAge{firstName: s.firstName, lastName: token}, createdAt)
	case awaitingAge:
		return e.transition(ctx, userID, awaitingSwimmer{firstName: s.firstName, lastName: s.lastName, age: token}, createdAt)
	case awaitingSwimmer:
		return e.complete(ctx, ev, s, token)
	default:
		return Outcome{}, fmt.Errorf("unhandled dialog step %T", current)
	}
}

// transition persists next and emits its prompt.
func (e *Engine) transition(ctx context.Context, userID string, next step, createdAt time.Time) (Outcome, error) {
	msgs, err := e.prompt(next)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.sessions.SaveDialogState(ctx, encodeState(userID, next, createdAt, e.now())); err != nil {
		return Outcome{}, fmt.Errorf("save dialog state: %w", err)
	}
	slog.Debug("Engine.transition", "userID", userID, "step", next.dialogStep())
	return Outcome{Handled: true, Messages: msgs}, nil
}

// prompt returns the question asked when entering s.
func (e *Engine) prompt(s step) ([]models.OutboundMessage, error) {
	var name string
	bindings := map[string]any{}
	switch v := s.(type) {
	case awaitingFirstName:
		name = content.TextAskFirstName
	case awaitingLastName:
		name = content.TextAskLastName
		bindings["first_name"] = v.firstName
	case awaitingAge:
		name = content.TextAskAge
		bindings["first_name"] = v.firstName
	case awaitingSwimmer:
		text, err := e.content.Render(content.TextAskSwimmer, map[string]any{"first_name": v.firstName})
		if err != nil {
			return nil, err
		}
		labels, tokens := e.content.Labels, e.content.Tokens
		return []models.OutboundMessage{models.ButtonPrompt(text,
			models.Button{Label: labels.Accept, Token: tokens.SwimYes},
			models.Button{Label: labels.Reject, Token: tokens.SwimNo},
		)}, nil
	}
	text, err := e.content.Render(name, bindings)
	if err != nil {
		return nil, err
	}
	return []models.OutboundMessage{models.Text(text)}, nil
}

// complete finishes the registration. The dialog state is deleted whatever the answer was.
func (e *Engine) complete(ctx context.Context, ev models.InboundEvent, s awaitingSwimmer, token string) (Outcome, error) {
	swimmer := models.SwimmerUnknown
	switch token {
	case e.content.Tokens.SwimYes:
		swimmer = models.SwimmerYes
	case e.content.Tokens.SwimNo:
		swimmer = models.SwimmerNo
	}

	text, err := e.content.Render(content.TextRegistered, map[string]any{"first_name": s.firstName})
	if err != nil {
		return Outcome{}, err
	}
	if err := e.sessions.DeleteDialogState(ctx, ev.SenderID); err != nil {
		return Outcome{}, fmt.Errorf("delete dialog state: %w", err)
	}

	reg := &models.Registration{
		UserID:       ev.SenderID,
		Channel:      ev.Channel,
		FirstName:    s.firstName,
		LastName:     s.lastName,
		Age:          s.age,
		Swimmer:      swimmer,
		RegisteredAt: e.now(),
	}
	slog.Info("Engine.complete: registration finished", "userID", ev.SenderID, "first_name", reg.FirstName, "swimmer", swimmer)
	if e.sink != nil {
		if err := e.sink.SaveRegistration(ctx, *reg); err != nil {
			// The user has completed the flow; losing the record is logged, not surfaced.
			slog.Error("Engine.complete: saving registration failed", "userID", ev.SenderID, "error", err)
		}
	}
	return Outcome{Handled: true, Messages: []models.OutboundMessage{models.Text(text)}, Completed: reg}, nil
}

// active reports whether the user currently has a dialog in progress.
func (e *Engine) active(ctx context.Context, userID string) (bool, error) {
	st, err := e.sessions.GetDialogState(ctx, userID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	if _, err := decodeState(*st); errors.Is(err, ErrCorruptState) {
		return false, nil
	}
	return true, nil
}
