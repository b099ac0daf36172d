package push

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/dukerupert/twogether/internal/model"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Uncompressed P-256 point.
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	key, err := ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	if got := base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()); got != pub {
		t.Error("public key does not match private key")
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusCreated, nil},
		{http.StatusOK, nil},
		{http.StatusNotFound, ErrExpired},
		{http.StatusGone, ErrExpired},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusBadRequest, ErrTransient},
		{http.StatusInternalServerError, ErrTransient},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.code)
		if tt.want == nil {
			if err != nil {
				t.Errorf("classifyStatus(%d) = %v, want nil", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestServiceConfigured(t *testing.T) {
	if NewService(Config{}).Configured() {
		t.Error("empty config should not be configured")
	}
	svc := NewService(Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"})
	if !svc.Configured() {
		t.Error("expected configured")
	}
	if svc.VAPIDPublicKey() != "pub" {
		t.Errorf("public key = %q, want %q", svc.VAPIDPublicKey(), "pub")
	}
}

func TestServiceSendUnconfigured(t *testing.T) {
	err := NewService(Config{}).Send(context.Background(), &model.PushSubscription{Endpoint: "https://push.example.com/x"}, Payload{Title: "hi"})
	if !errors.Is(err, ErrTransient) {
		t.Errorf("err = %v, want ErrTransient", err)
	}
}
