package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// KeepAliveTaker takes whatever its keep_alive_maker counterparty announces
// on this bot's inbox.
type KeepAliveTaker struct {
	*base
	deps Deps

	mu     sync.Mutex
	queue  []domain.InboxMessage
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKeepAliveTaker is the keep_alive_taker factory.
func NewKeepAliveTaker(deps Deps, settings map[string]any) (Strategy, error) {
	var cfg PairSettings
	if err := DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Bus == nil || deps.Inbox == nil {
		return nil, fmt.Errorf("%w: keep_alive_taker needs a signal bus", domain.ErrInvalidSettings)
	}
	return &KeepAliveTaker{
		base: newBase(NameKeepAliveTaker, deps, cfg, settings),
		deps: deps,
	}, nil
}

// Init subscribes to the inbox. The subscription outlives ctx and ends on Close.
func (t *KeepAliveTaker) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := t.deps.Bus.Subscribe(subCtx, t.deps.Inbox(t.botID))
	if err != nil {
		cancel()
		return fmt.Errorf("keep_alive_taker: subscribe: %w", err)
	}
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.receive(ch, t.done)
	return nil
}

func (t *KeepAliveTaker) receive(ch <-chan []byte, done chan struct{}) {
	defer close(done)
	for payload := range ch {
		var msg domain.InboxMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.logger.Warn("bad inbox message", slog.String("error", err.Error()))
			continue
		}
		t.logger.Info("queued take order",
			slog.String("side", string(msg.Side)),
			slog.String("quantity", msg.Quantity.String()),
		)
		t.mu.Lock()
		t.queue = append(t.queue, msg)
		t.mu.Unlock()
	}
}

// ComputeCurrentDelta drains the queued instructions into take orders.
func (t *KeepAliveTaker) ComputeCurrentDelta(context.Context, domain.Snapshot) (domain.Delta, error) {
	t.mu.Lock()
	queued := t.queue
	t.queue = nil
	t.mu.Unlock()

	var delta domain.Delta
	for _, msg := range queued {
		delta.Take = append(delta.Take, domain.TakeOrder{Pair: t.pair, Side: msg.Side, Quantity: msg.Quantity})
	}
	return delta, nil
}

// Close ends the inbox subscription.
func (t *KeepAliveTaker) Close() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
