package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dietfurt/kolpingbot/internal/content"
	"github.com/dietfurt/kolpingbot/internal/dialog"
	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/dietfurt/kolpingbot/internal/responder"
	"github.com/dietfurt/kolpingbot/internal/store"
	"github.com/dietfurt/kolpingbot/internal/testutil"
)

type staticEvents []models.Event

func (s staticEvents) Events(ctx context.Context) ([]models.Event, error) { return s, nil }

type staticWeather models.Weather

func (w staticWeather) Current(ctx context.Context, city string) (models.Weather, error) {
	return models.Weather(w), nil
}

type fixture struct {
	content *content.Content
	store   *store.InMemoryStore
	engine  *dialog.Engine
	handler *ResponseHandler
	svc     *testutil.RecordingService
}

func newFixture(t *testing.T, opts ...ResponseHandlerOption) *fixture {
	t.Helper()
	c, err := content.Default()
	if err != nil {
		t.Fatalf("content.Default() error: %v", err)
	}
	st := store.NewInMemoryStore()
	engine := dialog.NewEngine(st, c, dialog.WithRegistrationSink(st))
	reg := responder.NewDefaultRegistry(c, responder.Deps{
		Events:      staticEvents{{Title: "Maibaum", Date: "01.05.2025", URL: "https://kolping-dietfurt.de/1"}},
		Weather:     staticWeather{Description: "sonnig", TempMin: 12, TempMax: 21},
		WeatherCity: "Dietfurt",
	})
	svc := testutil.NewRecordingService(models.ChannelMessenger)
	svc.SetProfile("u1", models.Profile{FirstName: "Maria"})
	return &fixture{
		content: c,
		store:   st,
		engine:  engine,
		handler: NewResponseHandler(engine, c.Groups, reg, opts...),
		svc:     svc,
	}
}

func (f *fixture) process(t *testing.T, id, text, payload string) {
	t.Helper()
	ev := models.InboundEvent{ID: id, Channel: models.ChannelMessenger, SenderID: "u1", Text: text, Payload: payload}
	if err := f.handler.ProcessEvent(context.Background(), f.svc, ev); err != nil {
		t.Fatalf("ProcessEvent(%q) error: %v", text, err)
	}
}

func TestKeywordResponsesInGroupOrder(t *testing.T) {
	f := newFixture(t)
	f.process(t, "m1", "Hallo, wie ist das Wetter?", "")

	texts := f.svc.Texts()
	want := []string{
		"Hallo Maria",
		"Das Wetter in Dietfurt ist zurzeit sonnig bei Temperaturen zwischen 12°C und 21°C.",
	}
	if len(texts) != len(want) {
		t.Fatalf("got %d messages %v, want %d", len(texts), texts, len(want))
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("message %d: got %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestUnmatchedTextSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.process(t, "m1", "xyz", "")
	if n := len(f.svc.Sent()); n != 0 {
		t.Errorf("expected no messages, got %d", n)
	}
}

func TestRegistrationThroughHandler(t *testing.T) {
	f := newFixture(t)
	f.process(t, "m1", "Ich möchte eine Anmeldung machen", "")
	sent := f.svc.Sent()
	if len(sent) != 1 || sent[0].Message.Kind != models.MessageKindButtons {
		t.Fatalf("expected registration button prompt, got %+v", sent)
	}

	steps := []struct{ text, payload string }{
		{"Ja", "anmeldung_ja"},
		{"Anna", ""},
		{"Muster", ""},
		{"10", ""},
		{"Ja", "schwimmer_ja"},
	}
	for i, s := range steps {
		f.process(t, fmt.Sprintf("m%d", i+2), s.text, s.payload)
	}

	texts := f.svc.Texts()
	last := texts[len(texts)-1]
	if last != "Anna wurde angemeldet." {
		t.Errorf("last message %q", last)
	}
	regs, err := f.store.ListRegistrations(context.Background())
	if err != nil {
		t.Fatalf("ListRegistrations() error: %v", err)
	}
	if len(regs) != 1 || regs[0].Swimmer != models.SwimmerYes || regs[0].Age != "10" {
		t.Errorf("unexpected registrations: %+v", regs)
	}
}

func TestDialogSuppressesKeywords(t *testing.T) {
	f := newFixture(t)
	f.process(t, "m1", "", "anmeldung_ja")
	f.process(t, "m2", "Wetter", "")

	texts := f.svc.Texts()
	if len(texts) != 2 || texts[1] != "Und der Nachname?" {
		t.Errorf("keyword text should be stored as first name, got %v", texts)
	}
	st, _ := f.store.GetDialogState(context.Background(), "u1")
	if st == nil || st.FirstName != "Wetter" {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestDuplicateEventsProcessedOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	f := newFixture(t, WithDedup(st))
	f.process(t, "mid.1", "hallo", "")
	f.process(t, "mid.1", "hallo", "")
	if n := len(f.svc.Sent()); n != 1 {
		t.Errorf("expected one greeting, got %d", n)
	}
}

func TestResponderFailureIsDropped(t *testing.T) {
	f := newFixture(t)
	// No profile for u2: greeting fails, board still answers.
	ev := models.InboundEvent{ID: "m1", SenderID: "u2", Text: "hallo vorstand"}
	if err := f.handler.ProcessEvent(context.Background(), f.svc, ev); err != nil {
		t.Fatalf("ProcessEvent() error: %v", err)
	}
	texts := f.svc.Texts()
	if len(texts) != len(f.content.Texts.Board) {
		t.Errorf("expected only board texts, got %v", texts)
	}
}

func TestSendFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.svc.FailSend(0, errors.New("graph down"))
	f.process(t, "m1", "vorstand", "")
	texts := f.svc.Texts()
	if len(texts) != 1 || texts[0] != f.content.Texts.Board[1] {
		t.Errorf("expected second board text after failed first send, got %v", texts)
	}
}

type failingDialog struct{}

func (failingDialog) Handle(ctx context.Context, ev models.InboundEvent) (dialog.Outcome, error) {
	return dialog.Outcome{}, errors.New("store unavailable")
}

func TestDialogErrorIsReturned(t *testing.T) {
	c, _ := content.Default()
	h := NewResponseHandler(failingDialog{}, c.Groups, responder.NewRegistry())
	svc := testutil.NewRecordingService(models.ChannelMessenger)
	if err := h.ProcessEvent(context.Background(), svc, models.InboundEvent{ID: "m1", SenderID: "u1", Text: "hallo"}); err == nil {
		t.Error("expected error")
	}
	if len(svc.Sent()) != 0 {
		t.Error("nothing should be sent after a dialog error")
	}
}

type countingDialog struct {
	mu    sync.Mutex
	count int
}

func (d *countingDialog) Handle(ctx context.Context, ev models.InboundEvent) (dialog.Outcome, error) {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
	return dialog.Outcome{Handled: true}, nil
}

func TestListenDrainsQueue(t *testing.T) {
	d := &countingDialog{}
	h := NewResponseHandler(d, nil, responder.NewRegistry(), WithWorkers(3))
	svc := testutil.NewRecordingService(models.ChannelMessenger)
	for i := 0; i < 20; i++ {
		if !svc.Enqueue(models.InboundEvent{ID: fmt.Sprintf("e%d", i), SenderID: fmt.Sprintf("u%d", i%4)}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	h.Listen(context.Background(), svc)
	svc.Stop()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count != 20 {
		t.Errorf("processed %d events, want 20", d.count)
	}
}

// slowDedup delays the inbound record of one message id.
type slowDedup struct {
	*store.InMemoryStore
	slowID string
	delay  time.Duration
}

func (d slowDedup) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	if messageID == d.slowID {
		time.Sleep(d.delay)
	}
	return d.InMemoryStore.RecordInbound(ctx, messageID, userID)
}

func TestListenKeepsPerSenderOrder(t *testing.T) {
	f := newFixture(t, WithDedup(slowDedup{InMemoryStore: store.NewInMemoryStore(), slowID: "m2", delay: 100 * time.Millisecond}))
	f.process(t, "m1", "", "anmeldung_ja")

	for _, ev := range []models.InboundEvent{
		{ID: "m2", Channel: models.ChannelMessenger, SenderID: "u1", Text: "Anna"},
		{ID: "m3", Channel: models.ChannelMessenger, SenderID: "u1", Text: "Muster"},
	} {
		if !f.svc.Enqueue(ev) {
			t.Fatalf("enqueue %s failed", ev.ID)
		}
	}
	f.handler.Listen(context.Background(), f.svc)
	f.svc.Stop()

	done := make(chan struct{})
	go func() {
		f.handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit")
	}

	st, err := f.store.GetDialogState(context.Background(), "u1")
	if err != nil || st == nil {
		t.Fatalf("GetDialogState() = %+v, %v", st, err)
	}
	if st.FirstName != "Anna" || st.LastName != "Muster" {
		t.Errorf("per-sender order broken: first=%q last=%q", st.FirstName, st.LastName)
	}
	texts := f.svc.Texts()
	if last := texts[len(texts)-1]; last != "Wie alt ist Anna?" {
		t.Errorf("last message %q, want age prompt for Anna", last)
	}
}

func TestLaneForIsStable(t *testing.T) {
	for _, sender := range []string{"u1", "u2", "+491701234567", ""} {
		first := laneFor(sender, DefaultWorkers)
		if first < 0 || first >= DefaultWorkers {
			t.Fatalf("laneFor(%q) = %d out of range", sender, first)
		}
		for i := 0; i < 10; i++ {
			if got := laneFor(sender, DefaultWorkers); got != first {
				t.Errorf("laneFor(%q) changed from %d to %d", sender, first, got)
			}
		}
	}
}
