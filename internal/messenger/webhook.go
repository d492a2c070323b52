package messenger

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"strings"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/google/uuid"
)

// Webhook header names.
const (
	HeaderSignature256 = "X-Hub-Signature-256"
	HeaderSignature    = "X-Hub-Signature"
)

var (
	// ErrInvalidSignature is returned when the callback signature is missing or wrong.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotPageObject is returned for callbacks that are not about a page.
	ErrNotPageObject = errors.New("callback object is not a page")
)

// VerifySignature checks the HMAC of body against the signature headers. The sha256
// header is preferred; the legacy sha1 header is accepted when it is the only one sent.
func VerifySignature(appSecret string, body []byte, sig256, sig1 string) error {
	if appSecret == "" {
		return fmt.Errorf("%w: app secret not configured", ErrInvalidSignature)
	}
	switch {
	case sig256 != "":
		return checkHMAC(sha256.New, appSecret, body, sig256, "sha256=")
	case sig1 != "":
		return checkHMAC(sha1.New, appSecret, body, sig1, "sha1=")
	default:
		return fmt.Errorf("%w: no signature header", ErrInvalidSignature)
	}
}

func checkHMAC(h func() hash.Hash, secret string, body []byte, header, prefix string) error {
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("%w: unexpected format", ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return fmt.Errorf("%w: not hex", ErrInvalidSignature)
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body. Used by tests and local tooling.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHandshake implements the subscription check: it returns the challenge to echo
// and true when mode is "subscribe" and token matches the configured verify token.
func VerifyHandshake(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(verifyToken)) {
		return "", false
	}
	return challenge, true
}

// ParseCallback decodes a webhook body into inbound events. Echoes, delivery and read
// receipts, events without a sender and undecodable entries or events are skipped.
// An error is returned only when the body as a whole cannot be decoded or is not about a page.
func ParseCallback(body []byte) ([]models.InboundEvent, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	if cb.Object != "page" {
		return nil, fmt.Errorf("%w: %q", ErrNotPageObject, cb.Object)
	}

	var events []models.InboundEvent
	for i, rawEntry := range cb.Entry {
		var entry Entry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			slog.Warn("messenger.ParseCallback: skipping malformed entry", "index", i, "error", err)
			continue
		}
		for j, raw := range entry.Messaging {
			var me MessagingEvent
			if err := json.Unmarshal(raw, &me); err != nil {
				slog.Warn("messenger.ParseCallback: skipping malformed event", "entry", entry.ID, "index", j, "error", err)
				continue
			}
			ev, ok := toInbound(me)
			if !ok {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// toInbound converts a messaging event. ok is false for events the bot ignores.
func toInbound(me MessagingEvent) (models.InboundEvent, bool) {
	if me.Sender.ID == "" {
		slog.Debug("messenger.toInbound: event without sender")
		return models.InboundEvent{}, false
	}
	ev := models.InboundEvent{
		Channel:     models.ChannelMessenger,
		SenderID:    me.Sender.ID,
		RecipientID: me.Recipient.ID,
		Timestamp:   time.UnixMilli(me.Timestamp),
	}
	switch {
	case me.Message != nil:
		if me.Message.IsEcho {
			return models.InboundEvent{}, false
		}
		ev.ID = me.Message.Mid
		ev.Text = me.Message.Text
		if me.Message.QuickReply != nil {
			ev.Payload = me.Message.QuickReply.Payload
		}
		if ev.Text == "" && ev.Payload == "" {
			// attachments, stickers, likes
			slog.Debug("messenger.toInbound: message without text", "sender", me.Sender.ID)
			return models.InboundEvent{}, false
		}
	case me.Postback != nil:
		ev.ID = me.Postback.Mid
		ev.Text = me.Postback.Title
		ev.Payload = me.Postback.Payload
	default:
		// delivery, read and other notifications
		return models.InboundEvent{}, false
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev, true
}
