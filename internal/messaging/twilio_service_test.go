package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/dietfurt/kolpingbot/internal/twiliowhatsapp"
)

func postForm(handler http.HandlerFunc, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func receive(t *testing.T, s Service) models.InboundEvent {
	t.Helper()
	select {
	case ev := <-s.Responses():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event queued")
		return models.InboundEvent{}
	}
}

func TestTwilioWebhookQueuesEvent(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	rr := postForm(s.TwilioWebhookHandler, url.Values{
		"From":        {"whatsapp:+4915112345"},
		"To":          {"whatsapp:+4989000"},
		"Body":        {"Hallo"},
		"MessageSid":  {"SM123"},
		"ProfileName": {"Maria"},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	ev := receive(t, s)
	if ev.ID != "SM123" || ev.SenderID != "whatsapp:+4915112345" || ev.Text != "Hallo" || ev.Channel != models.ChannelWhatsApp || ev.Payload != "" {
		t.Errorf("unexpected event: %+v", ev)
	}
	p, err := s.GetProfile(context.Background(), "whatsapp:+4915112345")
	if err != nil || p.FirstName != "Maria" {
		t.Errorf("GetProfile() = %+v, %v", p, err)
	}
}

func TestTwilioWebhookMissingFields(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	rr := postForm(s.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+4915112345"}}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rr.Code)
	}
}

type stubValidator struct{ ok bool }

func (v stubValidator) Validate(url string, params map[string]string, signature string) bool {
	return v.ok && signature != ""
}

func TestTwilioWebhookSignature(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+4915112345"}, "Body": {"Hallo"}}

	rejecting := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidator(stubValidator{ok: false}, ""))
	if rr := postForm(rejecting.TwilioWebhookHandler, form, map[string]string{"X-Twilio-Signature": "x"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", rr.Code)
	}

	accepting := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidator(stubValidator{ok: true}, "https://bot.example/twilio/webhook"))
	if rr := postForm(accepting.TwilioWebhookHandler, form, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: status %d, want 401", rr.Code)
	}
	if rr := postForm(accepting.TwilioWebhookHandler, form, map[string]string{"X-Twilio-Signature": "x"}); rr.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rr.Code)
	}
}

func TestTwilioButtonReplyMapping(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	s := NewTwilioService(mock)
	user := "whatsapp:+4915112345"
	prompt := models.ButtonPrompt("Kann Anna schwimmen?",
		models.Button{Label: "Ja", Token: "schwimmer_ja"},
		models.Button{Label: "Nein", Token: "schwimmer_nein"})

	if _, err := s.SendMessage(context.Background(), user, prompt); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if got := mock.SentMessages[0].Body; got != "Kann Anna schwimmen?\n1. Ja\n2. Nein" {
		t.Errorf("body %q", got)
	}

	postForm(s.TwilioWebhookHandler, url.Values{"From": {user}, "Body": {"2"}}, nil)
	if ev := receive(t, s); ev.Payload != "schwimmer_nein" || ev.Text != "2" {
		t.Errorf("unexpected event: %+v", ev)
	}

	// The prompt is consumed by the matched reply.
	postForm(s.TwilioWebhookHandler, url.Values{"From": {user}, "Body": {"1"}}, nil)
	if ev := receive(t, s); ev.Payload != "" {
		t.Errorf("stale prompt mapped reply: %+v", ev)
	}
}

func TestTwilioTextClearsPrompt(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	user := "whatsapp:+4915112345"
	ctx := context.Background()
	s.SendMessage(ctx, user, models.ButtonPrompt("Anmelden?", models.Button{Label: "Ja", Token: "anmeldung_ja"}))
	s.SendMessage(ctx, user, models.Text("Hallo"))

	postForm(s.TwilioWebhookHandler, url.Values{"From": {user}, "Body": {"ja"}}, nil)
	if ev := receive(t, s); ev.Payload != "" {
		t.Errorf("reply mapped after prompt was superseded: %+v", ev)
	}
}

func TestTwilioStop(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if _, err := s.SendMessage(context.Background(), "whatsapp:+1", models.Text("x")); err != ErrServiceStopped {
		t.Errorf("got %v, want ErrServiceStopped", err)
	}
	if s.Enqueue(models.InboundEvent{ID: "x"}) {
		t.Error("enqueue after stop succeeded")
	}
	if _, ok := <-s.Responses(); ok {
		t.Error("responses channel still open")
	}
}
