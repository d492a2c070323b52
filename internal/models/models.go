// Package models defines the core data structures for KolpingBot.
//
// It includes inbound events, outbound message commands and the API response envelope,
// which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Channel identifies the messaging platform an event arrived on.
type Channel string

const (
	// ChannelMessenger is Facebook Messenger via the Graph API.
	ChannelMessenger Channel = "messenger"
	// ChannelWhatsApp is WhatsApp via Twilio.
	ChannelWhatsApp Channel = "whatsapp"
)

// InboundEvent is one message-like event from a participant.
// Payload carries a postback or quick-reply token when the participant pressed a button.
type InboundEvent struct {
	ID          string    `json:"id"`
	Channel     Channel   `json:"channel"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text,omitempty"`
	Payload     string    `json:"payload,omitempty"`
}

// Input returns the token-bearing input of the event: the payload when present, else the text.
func (e InboundEvent) Input() string {
	if e.Payload != "" {
		return e.Payload
	}
	return e.Text
}

// MessageKind tags the variant of an OutboundMessage.
type MessageKind string

const (
	// MessageKindText is a plain text reply.
	MessageKindText MessageKind = "text"
	// MessageKindButtons is a text prompt with selectable buttons.
	MessageKindButtons MessageKind = "buttons"
	// MessageKindList is a list of linked entries.
	MessageKindList MessageKind = "list"
)

// Validation limits for outbound messages.
const (
	// MaxTextLength is the longest text the Send API accepts.
	MaxTextLength = 2000
	// MaxButtons is the number of buttons a button template may carry.
	MaxButtons = 3
)

// Error variables for outbound message validation
var (
	ErrEmptyText          = errors.New("message text cannot be empty")
	ErrTextTooLong        = errors.New("message text exceeds maximum length")
	ErrNoButtons          = errors.New("button prompt requires at least one button")
	ErrTooManyButtons     = errors.New("too many buttons")
	ErrEmptyButtonToken   = errors.New("button token cannot be empty")
	ErrEmptyList          = errors.New("list requires at least one entry")
	ErrEmptyEntryTitle    = errors.New("list entry title cannot be empty")
	ErrUnknownMessageKind = errors.New("unknown message kind")
)

// Button is one selectable option of a button prompt. Token is delivered back when pressed.
type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// ListEntry is one element of a list message.
type ListEntry struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// OutboundMessage describes one reply to send. It carries no identity and is discarded after sending.
type OutboundMessage struct {
	Kind    MessageKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Buttons []Button    `json:"buttons,omitempty"`
	Entries []ListEntry `json:"entries,omitempty"`
}

// Text builds a plain text message.
func Text(text string) OutboundMessage {
	return OutboundMessage{Kind: MessageKindText, Text: text}
}

// ButtonPrompt builds a text prompt with buttons.
func ButtonPrompt(text string, buttons ...Button) OutboundMessage {
	return OutboundMessage{Kind: MessageKindButtons, Text: text, Buttons: buttons}
}

// List builds a list message from entries, keeping at most limit entries starting at offset.
// Out-of-range windows yield an empty list rather than an error.
func List(entries []ListEntry, offset, limit int) OutboundMessage {
	if offset < 0 {
		offset = 0
	}
	if offset > len(entries) {
		offset = len(entries)
	}
	end := len(entries)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	window := make([]ListEntry, end-offset)
	copy(window, entries[offset:end])
	return OutboundMessage{Kind: MessageKindList, Entries: window}
}

// Validate checks that the message can be rendered by a channel.
func (m OutboundMessage) Validate() error {
	switch m.Kind {
	case MessageKindText:
		return validateText(m.Text)
	case MessageKindButtons:
		if err := validateText(m.Text); err != nil {
			return err
		}
		if len(m.Buttons) == 0 {
			return ErrNoButtons
		}
		if len(m.Buttons) > MaxButtons {
			return ErrTooManyButtons
		}
		for _, b := range m.Buttons {
			if b.Token == "" {
				return ErrEmptyButtonToken
			}
		}
		return nil
	case MessageKindList:
		if len(m.Entries) == 0 {
			return ErrEmptyList
		}
		for _, e := range m.Entries {
			if e.Title == "" {
				return ErrEmptyEntryTitle
			}
		}
		return nil
	default:
		return ErrUnknownMessageKind
	}
}

func validateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}

// Profile is the public profile of a participant as returned by the platform.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    string `json:"gender,omitempty"`
}

// Event is one entry of the club's event calendar.
type Event struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	URL   string `json:"url"`
	Image string `json:"image,omitempty"`
}

// Weather holds the current conditions for a location.
type Weather struct {
	Description string  `json:"description"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
}

// SendResult is what a channel reports after accepting an outbound message.
type SendResult struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
