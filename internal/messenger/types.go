package messenger

import "encoding/json"

// Wire types of the Messenger Platform Send API and webhook callbacks.

// Recipient addresses a page-scoped user id (PSID).
type Recipient struct {
	ID string `json:"id"`
}

// SendRequest is the body of POST /me/messages. Exactly one of Message and
// SenderAction is set.
type SendRequest struct {
	Recipient     Recipient `json:"recipient"`
	MessagingType string    `json:"messaging_type,omitempty"`
	Message       *Message  `json:"message,omitempty"`
	SenderAction  string    `json:"sender_action,omitempty"`
}

type Message struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type Attachment struct {
	Type    string          `json:"type"`
	Payload TemplatePayload `json:"payload"`
}

type TemplatePayload struct {
	TemplateType string    `json:"template_type"`
	Text         string    `json:"text,omitempty"`
	Buttons      []Button  `json:"buttons,omitempty"`
	Elements     []Element `json:"elements,omitempty"`
}

// Element is one card of a generic template.
type Element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ItemURL  string   `json:"item_url,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

type Button struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// SendResponse is the success body of the Send API.
type SendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// Profile is the subset of user profile fields the bot requests.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    string `json:"gender"`
}

// Callback is the body of a webhook POST. Entries and their events are kept raw so a
// malformed one does not prevent its siblings from being decoded.
type Callback struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

// Entry holds the events for one page.
type Entry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
}

// MessagingEvent is a single messaging callback.
type MessagingEvent struct {
	Sender    Recipient         `json:"sender"`
	Recipient Recipient         `json:"recipient"`
	Timestamp int64             `json:"timestamp"`
	Message   *IncomingMessage  `json:"message,omitempty"`
	Postback  *IncomingPostback `json:"postback,omitempty"`
	Delivery  *struct{}         `json:"delivery,omitempty"`
	Read      *struct{}         `json:"read,omitempty"`
}

type IncomingMessage struct {
	Mid        string      `json:"mid"`
	Text       string      `json:"text"`
	IsEcho     bool        `json:"is_echo"`
	QuickReply *QuickReply `json:"quick_reply,omitempty"`
}

type QuickReply struct {
	Payload string `json:"payload"`
}

type IncomingPostback struct {
	Mid     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}
