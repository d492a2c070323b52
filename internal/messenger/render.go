package messenger

import (
	"fmt"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// Platform limits of the Send API templates.
const (
	MaxGenericElements = 10
	maxTitleRunes      = 80
	maxButtonTitle     = 20
	maxButtonTextRunes = 640
)

// Render converts an outbound message into one or more Send API requests. Lists longer
// than MaxGenericElements are split into consecutive generic templates.
func Render(recipientID string, msg models.OutboundMessage, moreInfoLabel string) ([]SendRequest, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("render message: %w", err)
	}
	to := Recipient{ID: recipientID}
	wrap := func(m *Message) SendRequest {
		return SendRequest{Recipient: to, MessagingType: "RESPONSE", Message: m}
	}

	switch msg.Kind {
	case models.MessageKindText:
		return []SendRequest{wrap(&Message{Text: msg.Text})}, nil

	case models.MessageKindButtons:
		buttons := make([]Button, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, Button{Type: "postback", Title: truncate(b.Label, maxButtonTitle), Payload: b.Token})
		}
		return []SendRequest{wrap(&Message{Attachment: &Attachment{
			Type: "template",
			Payload: TemplatePayload{
				TemplateType: "button",
				Text:         truncate(msg.Text, maxButtonTextRunes),
				Buttons:      buttons,
			},
		}})}, nil

	case models.MessageKindList:
		var reqs []SendRequest
		for start := 0; start < len(msg.Entries); start += MaxGenericElements {
			end := start + MaxGenericElements
			if end > len(msg.Entries) {
				end = len(msg.Entries)
			}
			elements := make([]Element, 0, end-start)
			for _, e := range msg.Entries[start:end] {
				elements = append(elements, toElement(e, moreInfoLabel))
			}
			reqs = append(reqs, wrap(&Message{Attachment: &Attachment{
				Type:    "template",
				Payload: TemplatePayload{TemplateType: "generic", Elements: elements},
			}}))
		}
		return reqs, nil
	}
	return nil, models.ErrUnknownMessageKind
}

func toElement(e models.ListEntry, moreInfoLabel string) Element {
	el := Element{
		Title:    truncate(e.Title, maxTitleRunes),
		Subtitle: truncate(e.Subtitle, maxTitleRunes),
		ItemURL:  e.URL,
		ImageURL: e.ImageURL,
	}
	if e.URL != "" {
		el.Buttons = []Button{{Type: "web_url", URL: e.URL, Title: truncate(moreInfoLabel, maxButtonTitle)}}
	}
	return el
}

// TypingAction returns the sender_action request for the typing indicator.
func TypingAction(recipientID string, on bool) SendRequest {
	action := "typing_off"
	if on {
		action = "typing_on"
	}
	return SendRequest{Recipient: Recipient{ID: recipientID}, SenderAction: action}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
