// Package testutil provides common test utilities and helpers for KolpingBot tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// SentMessage is one message recorded by RecordingService.
type SentMessage struct {
	To      string
	Message models.OutboundMessage
}

// TypingEvent is one typing indicator change recorded by RecordingService.
type TypingEvent struct {
	To string
	On bool
}

// RecordingService is an in-memory channel service that records everything sent
// through it. It satisfies messaging.Service.
type RecordingService struct {
	mu        sync.Mutex
	channel   models.Channel
	sent      []SentMessage
	typing    []TypingEvent
	profiles  map[string]models.Profile
	failSends map[int]error
	attempts  int
	responses chan models.InboundEvent
	stopped   bool

	// ProfileErr is returned by GetProfile for unknown users when set.
	ProfileErr error
}

// NewRecordingService creates a RecordingService for the given channel.
func NewRecordingService(channel models.Channel) *RecordingService {
	return &RecordingService{
		channel:   channel,
		profiles:  make(map[string]models.Profile),
		failSends: make(map[int]error),
		responses: make(chan models.InboundEvent, 100),
	}
}

// SetProfile registers the profile returned for userID.
func (s *RecordingService) SetProfile(userID string, p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = p
}

// FailSend makes the n-th send (0-based, counted over all sends) return err.
func (s *RecordingService) FailSend(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSends[n] = err
}

func (s *RecordingService) Channel() models.Channel { return s.channel }

func (s *RecordingService) SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (models.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := s.attempts
	s.attempts++
	if err, ok := s.failSends[attempt]; ok {
		return models.SendResult{}, err
	}
	s.sent = append(s.sent, SentMessage{To: to, Message: msg})
	return models.SendResult{RecipientID: to, MessageID: fmt.Sprintf("mid.%d", len(s.sent))}, nil
}

func (s *RecordingService) SendTypingIndicator(ctx context.Context, to string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, TypingEvent{To: to, On: on})
	return nil
}

func (s *RecordingService) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	if s.ProfileErr != nil {
		return models.Profile{}, s.ProfileErr
	}
	return models.Profile{}, fmt.Errorf("no profile for %s", userID)
}

func (s *RecordingService) Start(ctx context.Context) error { return nil }

func (s *RecordingService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.responses)
	}
	return nil
}

func (s *RecordingService) Enqueue(ev models.InboundEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.responses <- ev:
		return true
	default:
		return false
	}
}

func (s *RecordingService) Responses() <-chan models.InboundEvent {
	return s.responses
}

// Sent returns a copy of the recorded messages.
func (s *RecordingService) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Texts returns the text of every recorded message, in send order.
func (s *RecordingService) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Message.Text
	}
	return out
}

// Typing returns a copy of the recorded typing events.
func (s *RecordingService) Typing() []TypingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TypingEvent(nil), s.typing...)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}
	return response
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
