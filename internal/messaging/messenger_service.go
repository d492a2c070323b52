package messaging

import (
	"context"
	"log/slog"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// MessengerSender is the Graph API surface the Messenger service uses. *messenger.Client satisfies it.
type MessengerSender interface {
	SendMessage(ctx context.Context, recipientID string, msg models.OutboundMessage) (models.SendResult, error)
	SendTypingIndicator(ctx context.Context, recipientID string, on bool) error
	GetProfile(ctx context.Context, psid string) (models.Profile, error)
}

// MessengerService implements Service for Facebook Messenger. Inbound events are
// queued by the webhook handler.
type MessengerService struct {
	client MessengerSender
	*inbox
}

// Compile-time check that MessengerService implements Service.
var _ Service = (*MessengerService)(nil)

// NewMessengerService creates a MessengerService sending through client.
func NewMessengerService(client MessengerSender) *MessengerService {
	return &MessengerService{
		client: client,
		inbox:  newInbox("MessengerService", DefaultChannelBufferSize),
	}
}

func (s *MessengerService) Channel() models.Channel { return models.ChannelMessenger }

// Start is a no-op; events arrive through the webhook.
func (s *MessengerService) Start(ctx context.Context) error {
	slog.Debug("MessengerService Start invoked")
	return nil
}

func (s *MessengerService) Stop() error {
	s.inbox.stop()
	slog.Info("MessengerService stopped")
	return nil
}

func (s *MessengerService) SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (models.SendResult, error) {
	if s.isStopped() {
		return models.SendResult{}, ErrServiceStopped
	}
	res, err := s.client.SendMessage(ctx, to, msg)
	if err != nil {
		return res, err
	}
	slog.Debug("MessengerService message sent", "to", to, "kind", msg.Kind, "message_id", res.MessageID)
	return res, nil
}

func (s *MessengerService) SendTypingIndicator(ctx context.Context, to string, on bool) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendTypingIndicator(ctx, to, on)
}

func (s *MessengerService) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	return s.client.GetProfile(ctx, userID)
}

func (s *MessengerService) Enqueue(ev models.InboundEvent) bool {
	if ev.Channel == "" {
		ev.Channel = models.ChannelMessenger
	}
	return s.inbox.enqueue(ev)
}

func (s *MessengerService) Responses() <-chan models.InboundEvent {
	return s.inbox.responses
}
