// Package twiliowhatsapp wraps the Twilio API for the WhatsApp channel of KolpingBot.
//
// WhatsApp via Twilio has no button or carousel templates in this integration, so
// outbound messages are flattened to text: button prompts become numbered options and
// lists become one line block per entry.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AddressPrefix marks WhatsApp addresses in Twilio's From/To fields.
const AddressPrefix = "whatsapp:"

// Sender delivers a text body to a WhatsApp address and returns the message SID.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token used for the REST API and webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a Client. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	cfg := resolveOpts(opts)
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromWhats: Address(cfg.FromWhats)}, nil
}

func resolveOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	return cfg
}

// Address returns number in whatsapp:+E164 form.
func Address(number string) string {
	if strings.HasPrefix(number, AddressPrefix) {
		return number
	}
	return AddressPrefix + number
}

// SendMessage sends a WhatsApp message using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// Format flattens an outbound message into a WhatsApp text body.
func Format(msg models.OutboundMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch msg.Kind {
	case models.MessageKindText:
		b.WriteString(msg.Text)
	case models.MessageKindButtons:
		b.WriteString(msg.Text)
		for i, btn := range msg.Buttons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Label)
		}
	case models.MessageKindList:
		for i, e := range msg.Entries {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("*" + e.Title + "*")
			if e.Subtitle != "" {
				b.WriteString("\n" + e.Subtitle)
			}
			if e.URL != "" {
				b.WriteString("\n" + e.URL)
			}
		}
	}
	return b.String(), nil
}

// MatchReply maps a reply to the last button prompt back to the button's token. The
// reply may be the option number or the label, ignoring case and surrounding space.
func MatchReply(body string, buttons []models.Button) (string, bool) {
	reply := strings.TrimSpace(body)
	if reply == "" || len(buttons) == 0 {
		return "", false
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(reply, ".")); err == nil {
		if n >= 1 && n <= len(buttons) {
			return buttons[n-1].Token, true
		}
		return "", false
	}
	for _, btn := range buttons {
		if strings.EqualFold(reply, btn.Label) || reply == btn.Token {
			return btn.Token, true
		}
	}
	return "", false
}

// SignatureValidator checks the X-Twilio-Signature header of inbound webhooks.
type SignatureValidator struct {
	validator twilioclient.RequestValidator
}

// NewSignatureValidator creates a validator for the account's auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the public webhook URL and form params.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(url, params, signature)
}

// MockClient records sent messages instead of calling Twilio.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// Compile-time check that MockClient implements Sender.
var _ Sender = (*MockClient)(nil)

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return fmt.Sprintf("SM%04d", len(m.SentMessages)), nil
}
