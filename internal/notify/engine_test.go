package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"supportbridge/internal/botstate"
	"supportbridge/internal/config"
	"supportbridge/internal/delivery"
	"supportbridge/internal/helpdesk"
	"supportbridge/internal/store"
	logx "supportbridge/pkg/logx"
)

type fakeEvents struct {
	mu      sync.Mutex
	pending []helpdesk.Event
	acks    [][2]string
	err     error
}

func (f *fakeEvents) SearchPendingEvents(context.Context) ([]helpdesk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]helpdesk.Event(nil), f.pending...), nil
}

func (f *fakeEvents) AcknowledgeEvent(_ context.Context, publicID, recID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, [2]string{publicID, recID})
	return nil
}

func (f *fakeEvents) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

type memStore struct {
	mu   sync.Mutex
	recs []store.Record
}

func (m *memStore) Upsert(_ context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.recs {
		if r.Recipient == rec.Recipient && r.Channel == rec.Channel {
			m.recs[i] = rec
			return nil
		}
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memStore) ByRecipient(_ context.Context, recipient string) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Record
	for _, r := range m.recs {
		if r.Recipient == strings.ToLower(recipient) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

type captureSender struct {
	mu   sync.Mutex
	sent []delivery.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg delivery.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) messages() []delivery.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery.Message(nil), c.sent...)
}

func allowAll(context.Context, string, string, string) (botstate.State, error) {
	return botstate.State{AllowNotifications: true}, nil
}

func testManager(enabled bool) *config.Manager {
	m := config.NewManager("")
	m.Commit(&config.Config{
		Helpdesk: config.HelpdeskConfig{PortalURL: "https://portal.example/survey?rec="},
		Notifier: config.NotifierConfig{
			Enabled:      enabled,
			PollSchedule: "10s",
			IdleTimeout:  "5m",
			RatePerSec:   100,
		},
	})
	return m
}

func newTestEngine(t *testing.T, mgr *config.Manager, ev *fakeEvents, reg store.Store, snd delivery.Sender, states StateFetcher) *Engine {
	t.Helper()
	e, err := New(Deps{
		Config:   mgr,
		Events:   ev,
		Registry: reg,
		Sender:   snd,
		States:   states,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func pendingNotifyEvent() helpdesk.Event {
	return helpdesk.Event{
		PublicID: "123",
		RecordID: "abc",
		Fields: []helpdesk.Field{
			{DisplayName: "CustomerDisplayName", Value: "Jane Doe"},
			{DisplayName: "Operation", Value: OpNotify},
			{DisplayName: "Conversation", Value: "an agent replied to your ticket"},
		},
	}
}

func TestEngineDeliversAndAcknowledges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{pendingNotifyEvent()}}
	reg := &memStore{}
	snd := &captureSender{}
	mgr := testManager(true)
	e := newTestEngine(t, mgr, events, reg, snd, allowAll)

	raw, err := EncodeEnvelope(testEnvelope())
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if err := reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "msteams", Envelope: raw}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	e.poll(ctx, mgr.Get())

	sent := snd.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].Text != "Hi jane doe, an agent replied to your ticket" {
		t.Fatalf("text = %q", sent[0].Text)
	}
	if sent[0].Card != nil {
		t.Fatal("expected plain text for an event without a ticket id")
	}
	if sent[0].ConversationID != "conv-1" {
		t.Fatalf("conversation = %q", sent[0].ConversationID)
	}
	if events.ackCount() != 1 || events.acks[0] != [2]string{"123", "abc"} {
		t.Fatalf("acks = %v", events.acks)
	}
}

func TestEngineHoldsBackBusyConversation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{pendingNotifyEvent()}}
	reg := &memStore{}
	snd := &captureSender{}
	mgr := testManager(true)

	busy := func(context.Context, string, string, string) (botstate.State, error) {
		return botstate.State{LastActivity: time.Now(), AllowNotifications: false}, nil
	}
	e := newTestEngine(t, mgr, events, reg, snd, busy)

	raw, _ := EncodeEnvelope(testEnvelope())
	_ = reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "msteams", Envelope: raw})

	e.poll(ctx, mgr.Get())

	if len(snd.messages()) != 0 {
		t.Fatalf("sent %d messages, want 0", len(snd.messages()))
	}
	if events.ackCount() != 0 {
		t.Fatalf("acks = %v, want none while held back", events.acks)
	}
}

func TestEngineNoStateMeansAllowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{pendingNotifyEvent()}}
	reg := &memStore{}
	snd := &captureSender{}
	mgr := testManager(true)

	noState := func(context.Context, string, string, string) (botstate.State, error) {
		return botstate.State{}, botstate.ErrNoState
	}
	e := newTestEngine(t, mgr, events, reg, snd, noState)

	raw, _ := EncodeEnvelope(testEnvelope())
	_ = reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "msteams", Envelope: raw})

	e.poll(ctx, mgr.Get())

	if len(snd.messages()) != 1 {
		t.Fatalf("sent %d messages, want 1", len(snd.messages()))
	}
	if events.ackCount() != 1 {
		t.Fatalf("acks = %v, want 1", events.acks)
	}
}

func TestEngineSkipsRecordOnStateLookupError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{pendingNotifyEvent()}}
	reg := &memStore{}
	snd := &captureSender{}
	mgr := testManager(true)

	down := func(context.Context, string, string, string) (botstate.State, error) {
		return botstate.State{}, errors.New("state store unreachable")
	}
	e := newTestEngine(t, mgr, events, reg, snd, down)

	raw, _ := EncodeEnvelope(testEnvelope())
	_ = reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "msteams", Envelope: raw})

	e.poll(ctx, mgr.Get())

	// Unlike a definitive "no state", a lookup failure holds the record
	// back; the unacknowledged event retries on the next poll.
	if len(snd.messages()) != 0 {
		t.Fatalf("sent %d messages, want 0", len(snd.messages()))
	}
	if events.ackCount() != 0 {
		t.Fatalf("acks = %v, want none", events.acks)
	}
}

func TestEngineSkipsBrokenEnvelope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{pendingNotifyEvent()}}
	reg := &memStore{}
	snd := &captureSender{}
	mgr := testManager(true)
	e := newTestEngine(t, mgr, events, reg, snd, allowAll)

	good, _ := EncodeEnvelope(testEnvelope())
	_ = reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "slack", Envelope: ""})
	_ = reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "msteams", Envelope: good})

	e.poll(ctx, mgr.Get())

	if len(snd.messages()) != 1 {
		t.Fatalf("sent %d messages, want 1 (broken envelope skipped)", len(snd.messages()))
	}
	if events.ackCount() != 1 {
		t.Fatalf("acks = %v, want 1", events.acks)
	}
}

func TestEngineNoAckWhenDeliveryFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{pendingNotifyEvent()}}
	reg := &memStore{}
	snd := &captureSender{err: errors.New("channel down")}
	mgr := testManager(true)
	e := newTestEngine(t, mgr, events, reg, snd, allowAll)

	raw, _ := EncodeEnvelope(testEnvelope())
	_ = reg.Upsert(ctx, store.Record{Recipient: "jane doe", Channel: "msteams", Envelope: raw})

	e.poll(ctx, mgr.Get())

	if events.ackCount() != 0 {
		t.Fatalf("acks = %v, want none after failed delivery", events.acks)
	}
}

func TestEngineSkipsEventWithoutRecipient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := &fakeEvents{pending: []helpdesk.Event{{
		PublicID: "9",
		RecordID: "r9",
		Fields:   []helpdesk.Field{{DisplayName: "Operation", Value: OpChat}},
	}}}
	reg := &memStore{}
	snd := &captureSender{}
	mgr := testManager(true)
	e := newTestEngine(t, mgr, events, reg, snd, allowAll)

	e.poll(ctx, mgr.Get())

	if len(snd.messages()) != 0 || events.ackCount() != 0 {
		t.Fatalf("sent=%d acks=%d, want 0/0", len(snd.messages()), events.ackCount())
	}
}

func TestEngineStartFirstCallerWins(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := &fakeEvents{}
	e := newTestEngine(t, testManager(true), events, &memStore{}, &captureSender{}, allowAll)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Start(ctx) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	if !e.Running() {
		t.Fatal("loop should be running")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for e.Running() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not stop after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineLoopExitsWhenDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, testManager(false), &fakeEvents{}, &memStore{}, &captureSender{}, allowAll)

	if !e.Start(ctx) {
		t.Fatal("Start should report first caller")
	}
	deadline := time.Now().Add(2 * time.Second)
	for e.Running() {
		if time.Now().After(deadline) {
			t.Fatal("disabled loop did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineRegisterStoresEnvelope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := &memStore{}
	e := newTestEngine(t, testManager(false), &fakeEvents{}, reg, &captureSender{}, allowAll)

	if err := e.Register(ctx, testEnvelope()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	recs, err := reg.ByRecipient(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("ByRecipient: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Channel != "msteams" {
		t.Fatalf("channel = %q", recs[0].Channel)
	}
	env, err := DecodeEnvelope(recs[0].Envelope)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env != testEnvelope() {
		t.Fatalf("envelope mismatch: %+v", env)
	}
}
