package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"sort"
	"testing"

	"github.com/dietfurt/kolpingbot/internal/models"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, err := mock.SendMessage(ctx, "whatsapp:+4915112345", "Hallo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Error("expected a message SID")
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != "Hallo" {
		t.Fatalf("unexpected sent messages: %+v", mock.SentMessages)
	}

	mock.Err = errors.New("down")
	if _, err := mock.SendMessage(ctx, "whatsapp:+4915112345", "x"); err == nil {
		t.Error("expected configured error")
	}
}

func TestAddress(t *testing.T) {
	if got := Address("+4915112345"); got != "whatsapp:+4915112345" {
		t.Errorf("Address() = %q", got)
	}
	if got := Address("whatsapp:+4915112345"); got != "whatsapp:+4915112345" {
		t.Errorf("Address() double-prefixed: %q", got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		msg  models.OutboundMessage
		want string
	}{
		{"text", models.Text("Hallo Maria"), "Hallo Maria"},
		{
			"buttons",
			models.ButtonPrompt("Kann Anna schwimmen?",
				models.Button{Label: "Ja", Token: "schwimmer_ja"},
				models.Button{Label: "Nein", Token: "schwimmer_nein"}),
			"Kann Anna schwimmen?\n1. Ja\n2. Nein",
		},
		{
			"list",
			models.List([]models.ListEntry{
				{Title: "Maibaum", Subtitle: "01.05.2025", URL: "https://kolping-dietfurt.de/1"},
				{Title: "Zeltlager"},
			}, 0, 5),
			"*Maibaum*\n01.05.2025\nhttps://kolping-dietfurt.de/1\n\n*Zeltlager*",
		},
	}
	for _, tt := range tests {
		got, err := Format(tt.msg)
		if err != nil {
			t.Fatalf("%s: Format() error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}

	if _, err := Format(models.Text("")); err == nil {
		t.Error("expected validation error for empty text")
	}
}

func TestMatchReply(t *testing.T) {
	buttons := []models.Button{{Label: "Ja", Token: "schwimmer_ja"}, {Label: "Nein", Token: "schwimmer_nein"}}
	tests := []struct {
		body   string
		want   string
		wantOK bool
	}{
		{"1", "schwimmer_ja", true},
		{" 2. ", "schwimmer_nein", true},
		{"ja", "schwimmer_ja", true},
		{"NEIN", "schwimmer_nein", true},
		{"schwimmer_ja", "schwimmer_ja", true},
		{"3", "", false},
		{"vielleicht", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := MatchReply(tt.body, buttons)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MatchReply(%q) = %q, %v; want %q, %v", tt.body, got, ok, tt.want, tt.wantOK)
		}
	}
	if _, ok := MatchReply("1", nil); ok {
		t.Error("match without buttons")
	}
}

// twilioSignature computes the X-Twilio-Signature value: base64 HMAC-SHA1 of the URL
// followed by the sorted form keys and values.
func twilioSignature(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := url
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidator(t *testing.T) {
	url := "https://bot.kolping-dietfurt.de/twilio/webhook"
	params := map[string]string{"From": "whatsapp:+4915112345", "Body": "Hallo"}
	v := NewSignatureValidator("secret")

	if !v.Validate(url, params, twilioSignature("secret", url, params)) {
		t.Error("valid signature rejected")
	}
	if v.Validate(url, params, twilioSignature("other", url, params)) {
		t.Error("signature with wrong token accepted")
	}
	if v.Validate(url, params, "") {
		t.Error("empty signature accepted")
	}
}
