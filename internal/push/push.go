package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/twogether/internal/model"
)

var (
	// ErrExpired means the push service reported the subscription as gone
	// (404 or 410). The subscription will never accept messages again.
	ErrExpired = errors.New("push subscription expired")
	// ErrTransient covers every other delivery failure: network errors,
	// timeouts, throttling and 5xx responses.
	ErrTransient = errors.New("push delivery failed")
)

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Transport delivers one payload to one subscription.
type Transport interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             time.Duration
}

// Service sends Web Push notifications signed with the server's VAPID keys.
type Service struct {
	cfg    Config
	client *http.Client
}

func NewService(cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{cfg: cfg, client: &http.Client{}}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Configured reports whether a VAPID key pair is present.
func (s *Service) Configured() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

// Send delivers payload to sub, honouring ctx for cancellation.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	if !s.Configured() {
		return fmt.Errorf("%w: vapid keys not configured", ErrTransient)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrExpired
	case code >= 400:
		return fmt.Errorf("%w: push service returned %d", ErrTransient, code)
	}
	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert public key: %w", err)
	}
	publicKey = base64.RawURLEncoding.EncodeToString(pub.Bytes())

	priv := make([]byte, 32)
	key.D.FillBytes(priv)
	privateKey = base64.RawURLEncoding.EncodeToString(priv)

	return publicKey, privateKey, nil
}
