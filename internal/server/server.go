package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/config"
	"github.com/dukerupert/twogether/internal/handler"
	"github.com/dukerupert/twogether/internal/middleware"
	"github.com/dukerupert/twogether/internal/pairing"
	"github.com/dukerupert/twogether/internal/push"
	"github.com/dukerupert/twogether/internal/store"
	ws "github.com/dukerupert/twogether/internal/websocket"
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	tokens      *auth.Tokens
	accounts    *store.AccountStore
	authH       *handler.AuthHandler
	pairingH    *handler.PairingHandler
	pushH       *handler.PushHandler
	reminderH   *handler.ReminderHandler
	wishlistH   *handler.WishlistHandler
	noteH       *handler.NoteHandler
	healthH     *handler.HealthHandler
	dispatcher  *push.Dispatcher
	scheduler   *push.Scheduler
	rateLimiter *middleware.RateLimiter
	authPolicy  middleware.Policy
	joinPolicy  middleware.Policy
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires stores, services and handlers. transport may be nil, in which
// case notifications go out through Web Push signed with cfg.VAPID.
func New(db *sql.DB, cfg config.Config, transport push.Transport, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)

	accountStore := store.NewAccountStore(db)
	coupleStore := store.NewCoupleStore(db)
	pushStore := store.NewPushStore(db)
	reminderStore := store.NewReminderStore(db)
	wishlistStore := store.NewWishlistStore(db)
	noteStore := store.NewNoteStore(db)

	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPID.PublicKey,
		VAPIDPrivateKey: cfg.VAPID.PrivateKey,
		Subscriber:      cfg.VAPID.Subject,
		TTL:             cfg.Push.TTL,
	})
	if transport == nil {
		transport = pushSvc
	}
	dispatcher := push.NewDispatcher(transport, pushStore, logger, push.DispatcherConfig{
		DeliveryTimeout:  cfg.Push.Timeout,
		BroadcastTimeout: cfg.Push.BroadcastTimeout,
		Concurrency:      cfg.Push.Concurrency,
	})
	scheduler := push.NewScheduler(dispatcher, pushStore, reminderStore, logger)
	scheduler.SetInterval(cfg.Push.SchedulerInterval)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	pairingSvc := pairing.NewService(coupleStore, accountStore, logger)

	return &Server{
		db:          db,
		hub:         hub,
		tokens:      tokens,
		accounts:    accountStore,
		authH:       handler.NewAuthHandler(accountStore, tokens, logger),
		pairingH:    handler.NewPairingHandler(pairingSvc, hub, logger),
		pushH:       handler.NewPushHandler(dispatcher, pushStore, pushSvc.VAPIDPublicKey(), logger),
		reminderH:   handler.NewReminderHandler(reminderStore, accountStore, dispatcher, hub, logger),
		wishlistH:   handler.NewWishlistHandler(wishlistStore, accountStore, dispatcher, hub, logger),
		noteH:       handler.NewNoteHandler(noteStore, accountStore, dispatcher, hub, logger),
		healthH:     handler.NewHealthHandler(db, pushSvc.Configured()),
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		rateLimiter: middleware.NewRateLimiter(),
		authPolicy: middleware.Policy{
			Name:   "auth",
			Limit:  cfg.AuthRateLimit,
			Window: time.Minute,
			Key:    middleware.RealIP,
		},
		joinPolicy: middleware.Policy{
			Name:         "join",
			Limit:        cfg.JoinRateLimit,
			Window:       cfg.JoinWindow,
			Key:          middleware.ByAccount,
			FailuresOnly: true,
		},
		logger: logger,
	}
}

// Dispatcher returns the push dispatcher.
func (s *Server) Dispatcher() *push.Dispatcher {
	return s.dispatcher
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Start launches the background loops: the due-reminder scheduler and
// rate limiter cleanup.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.scheduler.Start(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.rateLimiter.Cleanup()
			}
		}
	}()
}

// Shutdown stops the background loops and waits for in-flight notification
// broadcasts, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.dispatcher.Close(ctx)
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	authLimit := s.rateLimiter.Middleware(s.authPolicy)
	outerMux.Handle("POST /auth/register", authLimit(http.HandlerFunc(s.authH.Register)))
	outerMux.Handle("POST /auth/login", authLimit(http.HandlerFunc(s.authH.Login)))
	outerMux.HandleFunc("GET /push/public-key", s.pushH.PublicKey)
	outerMux.HandleFunc("GET /health", s.healthH.Health)

	// Protected routes, wrapped with RequireAuth
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens, s.accounts, s.logger.With("component", "auth_middleware"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /me", s.authH.Me)
	mux.HandleFunc("PUT /me", s.authH.UpdateMe)

	// Pairing
	mux.HandleFunc("POST /pairing/create", s.pairingH.Create)
	mux.HandleFunc("POST /pairing/invite/rotate", s.pairingH.RotateInvite)
	// Failed joins are throttled per account against invite-code guessing.
	mux.Handle("POST /pairing/join", s.rateLimiter.Middleware(s.joinPolicy)(http.HandlerFunc(s.pairingH.Join)))
	mux.HandleFunc("GET /pairing/me", s.pairingH.Me)

	// Push notifications
	mux.HandleFunc("POST /push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /push/test", s.pushH.Test)
	mux.HandleFunc("GET /push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /push/preferences", s.pushH.GetPreferences)
	mux.HandleFunc("PUT /push/preferences", s.pushH.UpdatePreferences)

	// Reminders
	mux.HandleFunc("GET /reminders", s.reminderH.List)
	mux.HandleFunc("POST /reminders", s.reminderH.Create)
	mux.HandleFunc("PUT /reminders/{id}", s.reminderH.Update)
	mux.HandleFunc("DELETE /reminders/{id}", s.reminderH.Delete)

	// Wishlist
	mux.HandleFunc("GET /wishlist", s.wishlistH.List)
	mux.HandleFunc("POST /wishlist", s.wishlistH.Create)
	mux.HandleFunc("PUT /wishlist/{id}", s.wishlistH.Update)
	mux.HandleFunc("DELETE /wishlist/{id}", s.wishlistH.Delete)

	// Notes
	mux.HandleFunc("GET /notes", s.noteH.List)
	mux.HandleFunc("POST /notes", s.noteH.Create)
	mux.HandleFunc("PUT /notes/{id}", s.noteH.Update)
	mux.HandleFunc("DELETE /notes/{id}", s.noteH.Delete)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}
