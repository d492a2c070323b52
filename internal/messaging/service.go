// Package messaging connects channel services to the dialog engine and responders.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
)

const (
	// DefaultChannelBufferSize defines the default buffer size of the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an enqueue waits on a full channel
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction for one channel.
// Inbound events are queued with Enqueue and consumed from Responses.
type Service interface {
	// Channel names the platform the service delivers to.
	Channel() models.Channel

	// SendMessage renders and sends one outbound message.
	SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (models.SendResult, error)

	// SendTypingIndicator switches the typing indicator. Channels without one return nil.
	SendTypingIndicator(ctx context.Context, to string, on bool) error

	// GetProfile returns the participant's public profile.
	GetProfile(ctx context.Context, userID string) (models.Profile, error)

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop rejects further events and closes the Responses channel.
	Stop() error

	// Enqueue queues an inbound event. It returns false when the event was dropped.
	Enqueue(ev models.InboundEvent) bool

	// Responses returns the channel of inbound events.
	Responses() <-chan models.InboundEvent
}

// inbox is the inbound queue shared by the channel services.
type inbox struct {
	name      string
	responses chan models.InboundEvent
	mu        sync.RWMutex
	stopped   bool
}

func newInbox(name string, size int) *inbox {
	if size <= 0 {
		size = DefaultChannelBufferSize
	}
	return &inbox{name: name, responses: make(chan models.InboundEvent, size)}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// enqueue holds the read lock while sending so stop cannot close the channel underneath it.
func (b *inbox) enqueue(ev models.InboundEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn(b.name+" dropping inbound event (service stopped)", "event_id", ev.ID, "from", ev.SenderID)
		return false
	}
	select {
	case b.responses <- ev:
		slog.Debug(b.name+" queued inbound event", "event_id", ev.ID, "from", ev.SenderID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(b.name+" responses channel blocked, dropping event", "event_id", ev.ID, "from", ev.SenderID)
		return false
	}
}

func (b *inbox) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.responses)
}
