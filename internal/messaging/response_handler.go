package messaging

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/dietfurt/kolpingbot/internal/dialog"
	"github.com/dietfurt/kolpingbot/internal/intent"
	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/dietfurt/kolpingbot/internal/responder"
	"github.com/dietfurt/kolpingbot/internal/store"
)

// DefaultWorkers is the number of events processed concurrently per service.
const DefaultWorkers = 4

// DialogHandler advances the registration dialog. *dialog.Engine satisfies it.
type DialogHandler interface {
	Handle(ctx context.Context, ev models.InboundEvent) (dialog.Outcome, error)
}

// ResponseHandlerOption configures a ResponseHandler.
type ResponseHandlerOption func(*ResponseHandler)

// WithWorkers sets the worker pool size per service.
func WithWorkers(n int) ResponseHandlerOption {
	return func(rh *ResponseHandler) {
		if n > 0 {
			rh.workers = n
		}
	}
}

// WithDedup skips events whose message id was already recorded.
func WithDedup(repo store.DedupRepo) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// ResponseHandler routes each inbound event to the dialog engine, or, when the engine
// does not handle it, to the responders of every matching keyword group.
type ResponseHandler struct {
	dialog   DialogHandler
	groups   []intent.Group
	registry *responder.Registry
	dedup    store.DedupRepo
	workers  int
	wg       sync.WaitGroup
}

// NewResponseHandler creates a handler. groups are classified in the given order.
func NewResponseHandler(d DialogHandler, groups []intent.Group, registry *responder.Registry, opts ...ResponseHandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		dialog:   d,
		groups:   groups,
		registry: registry,
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// Listen starts the worker pool for svc. Events are routed to a worker by sender, so
// one user's messages are processed in arrival order while different users proceed in
// parallel. Workers exit when the Responses channel is closed or ctx is done.
func (rh *ResponseHandler) Listen(ctx context.Context, svc Service) {
	slog.Info("ResponseHandler listening", "channel", svc.Channel(), "workers", rh.workers)
	lanes := make([]chan models.InboundEvent, rh.workers)
	for i := range lanes {
		lanes[i] = make(chan models.InboundEvent, laneBuffer)
		rh.wg.Add(1)
		go rh.work(ctx, svc, i, lanes[i])
	}

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-svc.Responses():
				if !ok {
					return
				}
				lane := lanes[laneFor(ev.SenderID, len(lanes))]
				select {
				case lane <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// laneBuffer bounds the events queued per worker before the dispatcher blocks.
const laneBuffer = 16

// laneFor maps a sender to a stable worker index.
func laneFor(senderID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return int(h.Sum32() % uint32(n))
}

func (rh *ResponseHandler) work(ctx context.Context, svc Service, worker int, lane <-chan models.InboundEvent) {
	defer rh.wg.Done()
	for ev := range lane {
		if ctx.Err() != nil {
			continue
		}
		if err := rh.ProcessEvent(ctx, svc, ev); err != nil {
			slog.Error("ResponseHandler ProcessEvent failed", "event_id", ev.ID, "from", ev.SenderID, "error", err)
		}
	}
	slog.Debug("ResponseHandler worker exiting", "channel", svc.Channel(), "worker", worker)
}

// Wait blocks until the dispatcher and all workers started by Listen have exited.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

// ProcessEvent handles one inbound event end to end. Send and responder failures are
// logged and dropped; only dialog errors are returned.
func (rh *ResponseHandler) ProcessEvent(ctx context.Context, svc Service, ev models.InboundEvent) error {
	slog.Debug("ResponseHandler processing event", "event_id", ev.ID, "channel", ev.Channel, "from", ev.SenderID, "has_payload", ev.Payload != "")

	if rh.dedup != nil && ev.ID != "" {
		fresh, err := rh.dedup.RecordInbound(ctx, ev.ID, ev.SenderID)
		if err != nil {
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "event_id", ev.ID, "error", err)
		} else if !fresh {
			slog.Info("ResponseHandler skipping duplicate event", "event_id", ev.ID, "from", ev.SenderID)
			return nil
		}
	}

	outcome, err := rh.dialog.Handle(ctx, ev)
	if err != nil {
		return err
	}
	if outcome.Handled {
		rh.send(ctx, svc, ev, outcome.Messages)
		if reg := outcome.Completed; reg != nil {
			slog.Info("ResponseHandler registration completed", "event_id", ev.ID, "user", reg.UserID,
				"first_name", reg.FirstName, "last_name", reg.LastName, "age", reg.Age, "swimmer", reg.Swimmer)
		}
	} else {
		rh.respond(ctx, svc, ev)
	}

	if rh.dedup != nil && ev.ID != "" {
		if err := rh.dedup.MarkProcessed(ctx, ev.ID); err != nil {
			slog.Warn("ResponseHandler MarkProcessed failed", "event_id", ev.ID, "error", err)
		}
	}
	return nil
}

// respond runs the responder of every group matching the event text, in group order.
func (rh *ResponseHandler) respond(ctx context.Context, svc Service, ev models.InboundEvent) {
	matched := intent.Classify(ev.Text, rh.groups)
	if len(matched) == 0 {
		slog.Debug("ResponseHandler no keyword group matched", "event_id", ev.ID)
		return
	}
	slog.Debug("ResponseHandler matched groups", "event_id", ev.ID, "groups", intent.IDs(matched))

	req := responder.NewRequest(ev, svc)
	for _, g := range matched {
		r, ok := rh.registry.Get(g.ID)
		if !ok {
			slog.Warn("ResponseHandler no responder for group", "group", g.ID)
			continue
		}
		msgs, err := r.Respond(ctx, req)
		if err != nil {
			slog.Error("ResponseHandler responder failed", "group", g.ID, "event_id", ev.ID, "error", err)
			continue
		}
		rh.send(ctx, svc, ev, msgs)
	}
}

// send delivers msgs in order. A failed send is logged and the next message is still tried.
func (rh *ResponseHandler) send(ctx context.Context, svc Service, ev models.InboundEvent, msgs []models.OutboundMessage) {
	for i, msg := range msgs {
		res, err := svc.SendMessage(ctx, ev.SenderID, msg)
		if err != nil {
			slog.Error("ResponseHandler send failed", "event_id", ev.ID, "to", ev.SenderID, "index", i, "kind", msg.Kind, "error", err)
			continue
		}
		slog.Debug("ResponseHandler sent", "event_id", ev.ID, "to", ev.SenderID, "kind", msg.Kind, "message_id", res.MessageID)
	}
}
