package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/store"
)

var (
	ErrInvalidSubscription = errors.New("invalid push subscription")
	ErrNoSubscription      = errors.New("no push subscription")
)

// Event is something that happened in a couple that the partner's devices
// should hear about.
type Event struct {
	CoupleID     int64
	OriginatorID int64
	Kind         string
	Title        string
	Body         string
	URL          string
	Tag          string
}

func (e Event) payload() Payload {
	return Payload{Title: e.Title, Body: e.Body, URL: e.URL, Tag: e.Tag, Kind: e.Kind}
}

// Result summarizes one broadcast.
type Result struct {
	Attempted int
	Delivered int
	Pruned    int
	Failed    int
}

// SubscriptionInput is what a browser hands over after PushManager.subscribe.
type SubscriptionInput struct {
	Endpoint   string
	P256dh     string
	Auth       string
	DeviceName string
}

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	// DeliveryTimeout bounds a single delivery attempt.
	DeliveryTimeout time.Duration
	// BroadcastTimeout bounds a background broadcast started by Notify.
	BroadcastTimeout time.Duration
	// Concurrency caps parallel deliveries within one broadcast.
	Concurrency int
}

// Dispatcher fans events out to a couple's devices. It is the only component
// that deletes push subscriptions.
type Dispatcher struct {
	transport Transport
	subs      *store.PushStore
	logger    *slog.Logger
	cfg       DispatcherConfig

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(transport Transport, subs *store.PushStore, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Dispatcher{
		transport: transport,
		subs:      subs,
		logger:    logger.With("component", "push"),
		cfg:       cfg,
	}
}

// Subscribe stores a device subscription for accountID under the account's
// current couple. An unpaired account's subscription is moved into the
// couple when it pairs.
func (d *Dispatcher) Subscribe(ctx context.Context, accountID int64, in SubscriptionInput) (*model.PushSubscription, error) {
	if err := validateSubscription(in); err != nil {
		return nil, err
	}

	sub, err := d.subs.Upsert(ctx, accountID, in.Endpoint, in.P256dh, in.Auth, in.DeviceName)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	d.logger.Info("subscription stored", "account_id", accountID, "subscription_id", sub.ID)
	return sub, nil
}

func validateSubscription(in SubscriptionInput) error {
	if in.Endpoint == "" || in.P256dh == "" || in.Auth == "" {
		return fmt.Errorf("%w: endpoint, p256dh and auth are required", ErrInvalidSubscription)
	}
	u, err := url.Parse(in.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an https URL", ErrInvalidSubscription)
	}
	return nil
}

// Unsubscribe removes one of the caller's own subscriptions.
func (d *Dispatcher) Unsubscribe(ctx context.Context, accountID, subscriptionID int64) (bool, error) {
	ok, err := d.subs.Delete(ctx, subscriptionID, accountID)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	return ok, nil
}

// Broadcast delivers ev to every subscription of the couple, skipping the
// originator's devices when excludeOriginator is set. Deliveries run in
// parallel and fail independently. Dead subscriptions are pruned; transient
// failures are logged and left alone.
func (d *Dispatcher) Broadcast(ctx context.Context, ev Event, excludeOriginator bool) Result {
	var res Result
	if ev.CoupleID == 0 {
		return res
	}

	subs, err := d.subs.ListDeliverable(ctx, ev.CoupleID, ev.Kind)
	if err != nil {
		d.logger.Error("list subscriptions", "couple_id", ev.CoupleID, "kind", ev.Kind, "error", err)
		return res
	}

	targets := subs[:0]
	for _, sub := range subs {
		if excludeOriginator && sub.AccountID == ev.OriginatorID {
			continue
		}
		targets = append(targets, sub)
	}

	res = d.deliverAll(ctx, targets, ev.payload())
	d.logger.Debug("broadcast finished",
		"couple_id", ev.CoupleID,
		"kind", ev.Kind,
		"attempted", res.Attempted,
		"delivered", res.Delivered,
		"pruned", res.Pruned,
		"failed", res.Failed,
	)
	return res
}

// Notify broadcasts ev in the background, excluding the originator. It never
// blocks the caller. Events arriving after Close are dropped.
func (d *Dispatcher) Notify(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping event", "couple_id", ev.CoupleID, "kind", ev.Kind)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.BroadcastTimeout)
		defer cancel()
		d.Broadcast(ctx, ev, true)
	}()
}

// Close stops accepting events and waits for in-flight broadcasts, or for
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for broadcasts: %w", ctx.Err())
	}
}

// SendTest pushes a test notification to the caller's own devices and
// returns how many accepted it.
func (d *Dispatcher) SendTest(ctx context.Context, accountID int64) (int, error) {
	subs, err := d.subs.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, ErrNoSubscription
	}

	res := d.deliverAll(ctx, subs, Payload{
		Title: "Test notification",
		Body:  "Push notifications are working.",
		Tag:   "test",
		Kind:  model.NotifTypeTest,
	})
	return res.Delivered, nil
}

func (d *Dispatcher) deliverAll(ctx context.Context, subs []model.PushSubscription, payload Payload) Result {
	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)

	for i := range subs {
		sub := &subs[i]
		g.Go(func() error {
			outcome := d.deliver(ctx, sub, payload)
			mu.Lock()
			res.Attempted++
			switch outcome {
			case outcomeDelivered:
				res.Delivered++
			case outcomePruned:
				res.Pruned++
			default:
				res.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return res
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomePruned
	outcomeFailed
)

func (d *Dispatcher) deliver(ctx context.Context, sub *model.PushSubscription, payload Payload) outcome {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	err := d.transport.Send(sendCtx, sub, payload)
	cancel()

	switch {
	case err == nil:
		return outcomeDelivered
	case errors.Is(err, ErrExpired):
		d.unsubscribeIfDead(ctx, sub.Endpoint)
		return outcomePruned
	default:
		d.logger.Warn("push delivery failed",
			"subscription_id", sub.ID,
			"account_id", sub.AccountID,
			"error", err,
		)
		return outcomeFailed
	}
}

func (d *Dispatcher) unsubscribeIfDead(ctx context.Context, endpoint string) {
	n, err := d.subs.DeleteByEndpoint(ctx, endpoint)
	if err != nil {
		d.logger.Error("prune subscription", "error", err)
		return
	}
	d.logger.Info("pruned dead subscription", "removed", n)
}
