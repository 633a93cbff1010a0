package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"supportbridge/internal/botstate"
	"supportbridge/internal/config"
	"supportbridge/internal/delivery"
	"supportbridge/internal/helpdesk"
	"supportbridge/internal/store"
	logx "supportbridge/pkg/logx"
)

const defaultRatePerSec = 3

// EventSource is the helpdesk event feed the loop drains.
// *helpdesk.Client satisfies it.
type EventSource interface {
	SearchPendingEvents(ctx context.Context) ([]helpdesk.Event, error)
	AcknowledgeEvent(ctx context.Context, publicID, recID string) error
}

// StateFetcher looks up a conversation's soft state. ErrNoState is a valid
// answer and means the conversation may be notified.
type StateFetcher func(ctx context.Context, serviceURL, channelID, conversationID string) (botstate.State, error)

// Deps wires the engine's collaborators. Clock is optional and defaults to
// time.Now; tests inject a fixed clock.
type Deps struct {
	Config   *config.Manager
	Events   EventSource
	Registry store.Store
	Sender   delivery.Sender
	States   StateFetcher
	Log      logx.Logger
	Clock    func() time.Time
}

// Engine polls the helpdesk for pending notification events and pushes them
// into registered conversations. Exactly one poll loop runs per engine; Start
// is safe to call from any number of goroutines.
type Engine struct {
	cfg      *config.Manager
	events   EventSource
	registry store.Store
	sender   delivery.Sender
	states   StateFetcher
	log      logx.Logger
	now      func() time.Time

	limiter *rate.Limiter
	running atomic.Bool
}

func New(d Deps) (*Engine, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("notify: config manager is required")
	case d.Events == nil:
		return nil, errors.New("notify: event source is required")
	case d.Registry == nil:
		return nil, errors.New("notify: registry is required")
	case d.Sender == nil:
		return nil, errors.New("notify: sender is required")
	case d.States == nil:
		return nil, errors.New("notify: state fetcher is required")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Engine{
		cfg:      d.Config,
		events:   d.Events,
		registry: d.Registry,
		sender:   d.Sender,
		states:   d.States,
		log:      d.Log,
		now:      d.Clock,
		limiter:  rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultRatePerSec),
	}, nil
}

// Start launches the poll loop unless it is already running. It reports
// whether this call was the one that started it. The loop stops when ctx is
// cancelled or the notifier is disabled via config, after which Start may be
// called again.
func (e *Engine) Start(ctx context.Context) bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer e.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("notify: poll loop panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		e.run(ctx)
	}()
	return true
}

// Running reports whether the poll loop is currently active.
func (e *Engine) Running() bool { return e.running.Load() }

// Register stores the conversation envelope for the recipient and makes sure
// the poll loop is running. This is the path the dialog layer calls on every
// user interaction; the envelope for a (recipient, channel) pair is simply
// overwritten each time.
func (e *Engine) Register(ctx context.Context, env Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	recipient := strings.ToLower(strings.TrimSpace(env.Recipient.Name))
	if recipient == "" {
		return fmt.Errorf("notify: envelope recipient has no name")
	}
	rec := store.Record{
		Recipient: recipient,
		Channel:   strings.ToLower(env.ChannelID),
		Envelope:  raw,
		UpdatedAt: e.now().UTC(),
	}
	if err := e.registry.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("notify: register %s: %w", recipient, err)
	}
	// Activation outlives the request that triggered it.
	e.Start(context.WithoutCancel(ctx))
	return nil
}

func (e *Engine) run(ctx context.Context) {
	e.log.Info("notify: poll loop started")
	defer e.log.Info("notify: poll loop stopped")

	for {
		cfg := e.cfg.Get()
		if cfg == nil || !cfg.Notifier.Enabled {
			e.log.Info("notify: notifier disabled, loop exiting")
			return
		}
		sched, ok := ParseSchedule(cfg.Notifier.PollSchedule)
		if !ok && strings.TrimSpace(cfg.Notifier.PollSchedule) != "" {
			e.log.Warn("notify: invalid poll schedule, using default",
				logx.String("spec", cfg.Notifier.PollSchedule),
				logx.Duration("default", DefaultPollInterval))
		}
		now := e.now()
		wait := sched.Next(now).Sub(now)
		if wait <= 0 {
			wait = DefaultPollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		e.applyRate(cfg.Notifier.RatePerSec)
		e.poll(ctx, cfg)
	}
}

func (e *Engine) applyRate(perSec int) {
	if perSec <= 0 {
		perSec = defaultRatePerSec
	}
	if e.limiter.Limit() != rate.Limit(perSec) {
		e.limiter.SetLimit(rate.Limit(perSec))
		e.limiter.SetBurst(perSec)
	}
}

// poll runs one iteration: fetch pending events, fan each one out to every
// registered conversation of its recipient, acknowledge after a successful
// dispatch. Every failure is scoped as narrowly as possible; one bad event or
// record never stops the rest.
func (e *Engine) poll(ctx context.Context, cfg *config.Config) {
	idle, err := config.ParseDurationField("notifier.idle_timeout", cfg.Notifier.IdleTimeout)
	if err != nil {
		e.log.Warn("notify: bad idle timeout, treating as zero", logx.Err(err))
		idle = 0
	}

	events, err := e.events.SearchPendingEvents(ctx)
	if err != nil {
		e.log.Error("notify: event search failed", logx.Err(err))
		return
	}
	if len(events) == 0 {
		return
	}
	e.log.Debug("notify: pending events", logx.Int("count", len(events)))

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		e.handleEvent(ctx, cfg, ev, idle)
	}
}

func (e *Engine) handleEvent(ctx context.Context, cfg *config.Config, ev helpdesk.Event, idle time.Duration) {
	n, err := projectEvent(ev)
	if err != nil {
		e.log.Warn("notify: skipping event",
			logx.String("event", ev.PublicID), logx.Err(err))
		return
	}

	recs, err := e.registry.ByRecipient(ctx, strings.ToLower(n.recipient))
	if err != nil {
		e.log.Error("notify: registry lookup failed",
			logx.String("recipient", n.recipient), logx.Err(err))
		return
	}
	if len(recs) == 0 {
		e.log.Debug("notify: recipient has no registered conversation",
			logx.String("recipient", n.recipient))
		return
	}

	dispatched := false
	for _, rec := range recs {
		if e.dispatch(ctx, cfg, rec, n, idle) {
			dispatched = true
		}
	}
	if !dispatched {
		return
	}
	if err := e.events.AcknowledgeEvent(ctx, ev.PublicID, ev.RecordID); err != nil {
		e.log.Error("notify: acknowledge failed",
			logx.String("event", ev.PublicID), logx.Err(err))
	}
}

func (e *Engine) dispatch(ctx context.Context, cfg *config.Config, rec store.Record, n notice, idle time.Duration) bool {
	env, err := DecodeEnvelope(rec.Envelope)
	if err != nil {
		e.log.Warn("notify: skipping broken envelope",
			logx.String("recipient", rec.Recipient),
			logx.String("channel", rec.Channel),
			logx.Err(err))
		return false
	}

	st, err := e.states(ctx, env.ServiceURL, env.ChannelID, env.ConversationID)
	switch {
	case errors.Is(err, botstate.ErrNoState):
		st = botstate.State{AllowNotifications: true}
	case err != nil:
		e.log.Error("notify: state lookup failed",
			logx.String("conversation", env.ConversationID), logx.Err(err))
		return false
	}

	if !MayNotify(st, idle, e.now()) {
		e.log.Debug("notify: conversation busy, holding back",
			logx.String("recipient", rec.Recipient),
			logx.String("conversation", env.ConversationID),
			logx.Time("last_activity", st.LastActivity))
		return false
	}

	msg := buildMessage(env, n, cfg.Helpdesk.PortalURL)
	if msg == nil {
		e.log.Warn("notify: unknown operation tag",
			logx.String("operation", n.operation))
		return false
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return false
	}
	if err := e.sender.Send(ctx, *msg); err != nil {
		e.log.Error("notify: delivery failed",
			logx.String("recipient", rec.Recipient),
			logx.String("conversation", env.ConversationID),
			logx.Err(err))
		return false
	}
	e.log.Info("notify: delivered",
		logx.String("recipient", rec.Recipient),
		logx.String("channel", env.ChannelID),
		logx.String("operation", n.operation))
	return true
}
