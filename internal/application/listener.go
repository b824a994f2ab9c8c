package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davarch/regsync/internal/domain"
)

const releaseTimeout = 10 * time.Second

type ListenerConfig struct {
	BaseName        string
	NotificationURL string
	Topic           string
}

// Listener polls the registry subscription of one base and publishes one
// change set per tick.
type Listener struct {
	log    *zap.Logger
	reg    domain.Registry
	queue  domain.EventQueue
	status domain.StatusWriter
	rec    Recorder
	cfg    ListenerConfig
	newID  func() string

	base domain.Base
	sub  domain.Subscription
}

func NewListener(l *zap.Logger, reg domain.Registry, q domain.EventQueue, status domain.StatusWriter, rec Recorder, cfg ListenerConfig) *Listener {
	return &Listener{
		log:    l.Named("listener"),
		reg:    reg,
		queue:  q,
		status: orNopStatus(status),
		rec:    orNop(rec),
		cfg:    cfg,
		newID:  uuid.NewString,
	}
}

func (l *Listener) Name() string { return "listener" }

// Serve acquires the subscription, runs fn and releases the subscription on
// every way out of fn, panics included.
func (l *Listener) Serve(ctx context.Context, fn func(ctx context.Context)) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release(ctx)

	fn(ctx)
	return nil
}

func (l *Listener) acquire(ctx context.Context) error {
	bases, err := l.reg.ListBases(ctx)
	if err != nil {
		return fmt.Errorf("list bases: %w", err)
	}

	base, err := ResolveBase(bases, l.cfg.BaseName)
	if err != nil {
		return err
	}
	l.base = base

	subs, err := l.reg.ListSubscriptions(ctx, base.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	if len(subs) > 0 {
		l.sub = subs[0]
		l.log.Info("reusing subscription", zap.String("base", base.ID), zap.String("subscription", l.sub.ID))
		return nil
	}

	sub, err := l.reg.CreateSubscription(ctx, base.ID, l.cfg.NotificationURL)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	l.sub = sub
	l.log.Info("created subscription", zap.String("base", base.ID), zap.String("subscription", sub.ID))
	return nil
}

func (l *Listener) release(ctx context.Context) {
	if l.sub.ID == "" {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := l.reg.DeleteSubscription(rctx, l.base.ID, l.sub.ID); err != nil {
		l.log.Warn("subscription cleanup failed", zap.String("subscription", l.sub.ID), zap.Error(err))
		return
	}
	l.log.Info("subscription deleted", zap.String("subscription", l.sub.ID))
	l.sub = domain.Subscription{}
}

// RunOnce polls pending payloads and publishes them. The subscription cursor
// is acknowledged only after the change set is published, so a failed
// dispatch leaves the payloads queued for the next tick. It never reports
// work so the scheduler waits a full interval between ticks.
func (l *Listener) RunOnce(ctx context.Context) (bool, error) {
	batch, err := l.reg.Payloads(ctx, l.base.ID, l.sub.ID)
	if err != nil {
		l.log.Warn("payload retrieval failed, treating as empty", zap.Error(err))
		batch = domain.PayloadBatch{}
	}

	kept, dropped := Dedup(batch.Payloads)
	l.rec.PayloadsPolled(len(batch.Payloads), dropped)

	cs := domain.ChangeSet{
		Action:         domain.ActionRegistryChange,
		PayloadID:      l.newID(),
		SubscriptionID: l.sub.ID,
		BaseID:         l.base.ID,
		Payloads:       kept,
	}

	if _, err := l.queue.Dispatch(ctx, domain.DispatchRequest{
		Topic:       l.cfg.Topic,
		Hash:        cs.PayloadID,
		Description: fmt.Sprintf("Leeched %s", cs.Action),
		Payload:     cs,
	}); err != nil {
		return false, fmt.Errorf("dispatch change set: %w", err)
	}

	if batch.Cursor > 0 {
		l.reg.AckPayloads(l.sub.ID, batch.Cursor)
	}

	l.log.Debug("change set published",
		zap.String("payload_id", cs.PayloadID),
		zap.Int("payloads", len(kept)),
		zap.Int("dropped", dropped),
		zap.Int("cursor", batch.Cursor),
	)

	_ = l.status.Write(ctx, domain.Snapshot{
		Component: l.Name(),
		PayloadID: cs.PayloadID,
		Outcome:   OutcomePolled,
		Payloads:  len(kept),
		Dropped:   dropped,
		Retrieved: time.Now().Unix(),
	})

	return false, nil
}
