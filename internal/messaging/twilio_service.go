package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/dietfurt/kolpingbot/internal/twiliowhatsapp"
	"github.com/google/uuid"
)

// SignatureValidator checks Twilio webhook signatures. *twiliowhatsapp.SignatureValidator satisfies it.
type SignatureValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidator enables X-Twilio-Signature checks. webhookURL is the public URL
// Twilio posts to; when empty it is rebuilt from the request.
func WithSignatureValidator(v SignatureValidator, webhookURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.webhookURL = webhookURL
	}
}

// TwilioService implements Service for WhatsApp via Twilio.
//
// WhatsApp replies to a button prompt arrive as plain text, so the service remembers the
// last button prompt sent to each user and maps numeric or label replies back to the
// button token.
type TwilioService struct {
	client     twiliowhatsapp.Sender
	validator  SignatureValidator
	webhookURL string
	now        func() time.Time
	*inbox

	stateMu sync.Mutex
	prompts map[string][]models.Button
	names   map[string]string
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		now:     time.Now,
		inbox:   newInbox("TwilioService", DefaultChannelBufferSize),
		prompts: make(map[string][]models.Button),
		names:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TwilioService) Channel() models.Channel { return models.ChannelWhatsApp }

// Start is a no-op for Twilio; events arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.inbox.stop()
	slog.Info("TwilioService stopped")
	return nil
}

// SendMessage flattens msg to text and sends it. A button prompt becomes the user's
// active prompt; any other message clears it.
func (s *TwilioService) SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (models.SendResult, error) {
	if s.isStopped() {
		return models.SendResult{}, ErrServiceStopped
	}
	body, err := twiliowhatsapp.Format(msg)
	if err != nil {
		return models.SendResult{}, fmt.Errorf("invalid outbound message: %w", err)
	}
	sid, err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		return models.SendResult{}, err
	}

	s.stateMu.Lock()
	if msg.Kind == models.MessageKindButtons {
		s.prompts[to] = append([]models.Button(nil), msg.Buttons...)
	} else {
		delete(s.prompts, to)
	}
	s.stateMu.Unlock()

	return models.SendResult{RecipientID: to, MessageID: sid}, nil
}

// SendTypingIndicator does nothing since WhatsApp via Twilio has no typing indicator.
func (s *TwilioService) SendTypingIndicator(ctx context.Context, to string, on bool) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	slog.Debug("TwilioService SendTypingIndicator ignored (unsupported)", "to", to, "on", on)
	return nil
}

// GetProfile returns the WhatsApp profile name Twilio last reported for the user.
func (s *TwilioService) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	name, ok := s.names[userID]
	if !ok {
		return models.Profile{}, fmt.Errorf("no profile name known for %s", userID)
	}
	return models.Profile{FirstName: name}, nil
}

func (s *TwilioService) Enqueue(ev models.InboundEvent) bool {
	if ev.Channel == "" {
		ev.Channel = models.ChannelWhatsApp
	}
	return s.inbox.enqueue(ev)
}

func (s *TwilioService) Responses() <-chan models.InboundEvent {
	return s.inbox.responses
}

// resolveReply maps body to the token of the user's active button prompt, consuming the prompt.
func (s *TwilioService) resolveReply(from, body string) string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	buttons, ok := s.prompts[from]
	if !ok {
		return ""
	}
	token, matched := twiliowhatsapp.MatchReply(body, buttons)
	if matched {
		delete(s.prompts, from)
	}
	return token
}

func (s *TwilioService) requestURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// TwilioWebhookHandler handles inbound Twilio webhook requests. Valid messages are
// queued as InboundEvents on the Responses channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Validate(s.requestURL(r), params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Twilio webhook signature invalid", "remote", r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if name := r.FormValue("ProfileName"); name != "" {
		s.stateMu.Lock()
		s.names[from] = name
		s.stateMu.Unlock()
	}

	id := r.FormValue("MessageSid")
	if id == "" {
		id = uuid.NewString()
	}
	ev := models.InboundEvent{
		ID:          id,
		Channel:     models.ChannelWhatsApp,
		SenderID:    from,
		RecipientID: r.FormValue("To"),
		Timestamp:   s.now(),
		Text:        body,
		Payload:     s.resolveReply(from, body),
	}
	slog.Info("Inbound WhatsApp message from Twilio", "event_id", ev.ID, "from", from, "payload", ev.Payload)
	s.Enqueue(ev)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}
