package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/twogether/internal/database"
	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/store"
)

// fakeTransport records deliveries and returns a per-endpoint error.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []string
	errs      map[string]error
	delays    map[string]time.Duration
	delivered chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

func (f *fakeTransport) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	if d := f.delays[sub.Endpoint]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ErrTransient
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[sub.Endpoint]; err != nil {
		return err
	}
	f.sent = append(f.sent, sub.Endpoint)
	if f.delivered != nil {
		f.delivered <- struct{}{}
	}
	return nil
}

func (f *fakeTransport) endpoints() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.sent))
	for _, e := range f.sent {
		out[e] = true
	}
	return out
}

type dispatchEnv struct {
	d         *Dispatcher
	transport *fakeTransport
	subs      *store.PushStore
	reminders *store.ReminderStore
	accounts  *store.AccountStore
	couples   *store.CoupleStore
	coupleID  int64
	alice     int64
	bob       int64
}

func setupDispatcher(t *testing.T) *dispatchEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	accounts := store.NewAccountStore(db)
	couples := store.NewCoupleStore(db)
	alice, _ := accounts.Create(ctx, "alice@example.com", "hash", "Alice", "")
	bob, _ := accounts.Create(ctx, "bob@example.com", "hash", "Bob", "")
	c, err := couples.CreateWithMember(ctx, alice.ID, "ABC123")
	if err != nil {
		t.Fatalf("create couple: %v", err)
	}
	if _, err := couples.Join(ctx, bob.ID, "ABC123"); err != nil {
		t.Fatalf("join couple: %v", err)
	}

	transport := newFakeTransport()
	subs := store.NewPushStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(transport, subs, logger, DispatcherConfig{
		DeliveryTimeout:  200 * time.Millisecond,
		BroadcastTimeout: 2 * time.Second,
		Concurrency:      4,
	})
	return &dispatchEnv{
		d:         d,
		transport: transport,
		subs:      subs,
		reminders: store.NewReminderStore(db),
		accounts:  accounts,
		couples:   couples,
		coupleID:  c.ID,
		alice:     alice.ID,
		bob:       bob.ID,
	}
}

func (e *dispatchEnv) subscribe(t *testing.T, accountID int64, endpoint string) {
	t.Helper()
	_, err := e.d.Subscribe(context.Background(), accountID, SubscriptionInput{
		Endpoint: endpoint,
		P256dh:   "p256dh",
		Auth:     "auth",
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", endpoint, err)
	}
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.alice, "https://push.example.com/alice")
	env.subscribe(t, env.bob, "https://push.example.com/bob-phone")
	env.subscribe(t, env.bob, "https://push.example.com/bob-laptop")

	res := env.d.Broadcast(context.Background(), Event{
		CoupleID:     env.coupleID,
		OriginatorID: env.alice,
		Kind:         model.NotifTypeReminderCreated,
		Title:        "New reminder",
	}, true)

	if res.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", res.Delivered)
	}
	sent := env.transport.endpoints()
	if sent["https://push.example.com/alice"] {
		t.Error("originator's device received the broadcast")
	}
	if !sent["https://push.example.com/bob-phone"] || !sent["https://push.example.com/bob-laptop"] {
		t.Errorf("sent = %v, want both of bob's devices", sent)
	}
}

func TestBroadcastIncludesOriginator(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.alice, "https://push.example.com/alice")
	env.subscribe(t, env.bob, "https://push.example.com/bob")

	res := env.d.Broadcast(context.Background(), Event{
		CoupleID:     env.coupleID,
		OriginatorID: env.alice,
		Kind:         model.NotifTypeReminderDue,
	}, false)
	if res.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", res.Delivered)
	}
}

func TestBroadcastNMinusOne(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.alice, "https://push.example.com/a1")
	env.subscribe(t, env.bob, "https://push.example.com/b1")
	env.subscribe(t, env.bob, "https://push.example.com/b2")
	env.subscribe(t, env.bob, "https://push.example.com/b3")
	env.transport.errs["https://push.example.com/b2"] = ErrTransient

	res := env.d.Broadcast(context.Background(), Event{
		CoupleID:     env.coupleID,
		OriginatorID: env.alice,
		Kind:         model.NotifTypeNoteCreated,
	}, true)

	if res.Attempted != 3 || res.Delivered != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 3 attempted, 2 delivered, 1 failed", res)
	}
	// Transient failures keep the subscription.
	subs, _ := env.subs.ListByCouple(context.Background(), env.coupleID)
	if len(subs) != 4 {
		t.Errorf("subscriptions = %d, want 4", len(subs))
	}
}

func TestBroadcastPrunesExpired(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.bob, "https://push.example.com/dead")
	env.subscribe(t, env.bob, "https://push.example.com/alive")
	env.transport.errs["https://push.example.com/dead"] = ErrExpired

	res := env.d.Broadcast(context.Background(), Event{
		CoupleID:     env.coupleID,
		OriginatorID: env.alice,
		Kind:         model.NotifTypeWishlistCreated,
	}, true)

	if res.Pruned != 1 || res.Delivered != 1 {
		t.Errorf("result = %+v, want 1 pruned, 1 delivered", res)
	}
	subs, _ := env.subs.ListByAccount(context.Background(), env.bob)
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example.com/alive" {
		t.Errorf("remaining = %+v, want only the alive endpoint", subs)
	}
}

func TestBroadcastSlowDeviceDoesNotBlockOthers(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.bob, "https://push.example.com/slow")
	env.subscribe(t, env.bob, "https://push.example.com/fast")
	env.transport.delays["https://push.example.com/slow"] = 5 * time.Second

	start := time.Now()
	res := env.d.Broadcast(context.Background(), Event{
		CoupleID:     env.coupleID,
		OriginatorID: env.alice,
		Kind:         model.NotifTypeNoteCreated,
	}, true)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("broadcast took %v, want bounded by delivery timeout", elapsed)
	}
	if res.Delivered != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 delivered, 1 failed", res)
	}
}

func TestBroadcastHonoursPreferences(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.bob, "https://push.example.com/bob")
	env.subs.SetPreference(context.Background(), env.bob, model.NotifTypeNoteCreated, false)

	res := env.d.Broadcast(context.Background(), Event{
		CoupleID:     env.coupleID,
		OriginatorID: env.alice,
		Kind:         model.NotifTypeNoteCreated,
	}, true)
	if res.Attempted != 0 {
		t.Errorf("attempted = %d, want 0", res.Attempted)
	}
}

func TestNotifyAndClose(t *testing.T) {
	env := setupDispatcher(t)
	env.subscribe(t, env.bob, "https://push.example.com/bob")
	env.transport.delivered = make(chan struct{}, 1)

	env.d.Notify(Event{CoupleID: env.coupleID, OriginatorID: env.alice, Kind: model.NotifTypeReminderCreated})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-env.transport.delivered:
	default:
		t.Error("expected Notify to deliver before Close returned")
	}

	// Events after Close are dropped.
	env.d.Notify(Event{CoupleID: env.coupleID, OriginatorID: env.alice, Kind: model.NotifTypeReminderCreated})
	if got := len(env.transport.endpoints()); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   SubscriptionInput
	}{
		{"missing endpoint", SubscriptionInput{P256dh: "p", Auth: "a"}},
		{"missing p256dh", SubscriptionInput{Endpoint: "https://push.example.com/x", Auth: "a"}},
		{"missing auth", SubscriptionInput{Endpoint: "https://push.example.com/x", P256dh: "p"}},
		{"plain http", SubscriptionInput{Endpoint: "http://push.example.com/x", P256dh: "p", Auth: "a"}},
		{"not a url", SubscriptionInput{Endpoint: "push", P256dh: "p", Auth: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.d.Subscribe(ctx, env.alice, tt.in)
			if !errors.Is(err, ErrInvalidSubscription) {
				t.Errorf("err = %v, want ErrInvalidSubscription", err)
			}
		})
	}
}

func TestSubscribeUnpaired(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()
	dave, err := env.accounts.Create(ctx, "dave@example.com", "hash", "Dave", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	sub, err := env.d.Subscribe(ctx, dave.ID, SubscriptionInput{
		Endpoint: "https://push.example.com/solo",
		P256dh:   "p",
		Auth:     "a",
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.CoupleID != nil {
		t.Errorf("couple_id = %v, want nil", *sub.CoupleID)
	}
}

// A subscribe request that started before its account paired must not pull
// the device back out of the couple.
func TestSubscribeAfterPairingKeepsCouple(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()
	dave, _ := env.accounts.Create(ctx, "dave@example.com", "hash", "Dave", "")
	erin, _ := env.accounts.Create(ctx, "erin@example.com", "hash", "Erin", "")

	in := SubscriptionInput{Endpoint: "https://push.example.com/dave", P256dh: "p", Auth: "a"}
	if _, err := env.d.Subscribe(ctx, dave.ID, in); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c, err := env.couples.CreateWithMember(ctx, erin.ID, "XYZ789")
	if err != nil {
		t.Fatalf("create couple: %v", err)
	}
	if _, err := env.couples.Join(ctx, dave.ID, "XYZ789"); err != nil {
		t.Fatalf("join couple: %v", err)
	}

	// Same device re-subscribing, as a request authenticated while unpaired would.
	in.P256dh = "p2"
	sub, err := env.d.Subscribe(ctx, dave.ID, in)
	if err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if sub.CoupleID == nil || *sub.CoupleID != c.ID {
		t.Errorf("couple_id = %v, want %d", sub.CoupleID, c.ID)
	}

	subs, err := env.subs.ListDeliverable(ctx, c.ID, model.NotifTypeNoteCreated)
	if err != nil {
		t.Fatalf("list deliverable: %v", err)
	}
	if len(subs) != 1 || subs[0].AccountID != dave.ID {
		t.Errorf("deliverable = %+v, want dave's subscription", subs)
	}
}

func TestSendTest(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()

	if _, err := env.d.SendTest(ctx, env.alice); !errors.Is(err, ErrNoSubscription) {
		t.Errorf("err = %v, want ErrNoSubscription", err)
	}

	env.subscribe(t, env.alice, "https://push.example.com/alice")
	env.subscribe(t, env.bob, "https://push.example.com/bob")
	sent, err := env.d.SendTest(ctx, env.alice)
	if err != nil {
		t.Fatalf("send test: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if env.transport.endpoints()["https://push.example.com/bob"] {
		t.Error("test notification reached the partner")
	}
}

func TestUnsubscribe(t *testing.T) {
	env := setupDispatcher(t)
	ctx := context.Background()
	env.subscribe(t, env.alice, "https://push.example.com/alice")
	subs, _ := env.subs.ListByAccount(ctx, env.alice)

	if ok, _ := env.d.Unsubscribe(ctx, env.bob, subs[0].ID); ok {
		t.Error("partner removed another account's device")
	}
	ok, err := env.d.Unsubscribe(ctx, env.alice, subs[0].ID)
	if err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if !ok {
		t.Error("expected unsubscribe to remove the device")
	}
}
