package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
)

func TestWebhookDispatcher_RemindOwner(t *testing.T) {
	var got remindRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/notifications/remind" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("missing auth token, got %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, "secret", 5*time.Second)
	if err := d.RemindOwner(context.Background(), "owner-1", "msg-1"); err != nil {
		t.Fatalf("RemindOwner: %v", err)
	}
	if got.OwnerRef != "owner-1" || got.MessageRef != "msg-1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookDispatcher_DeliverFinal(t *testing.T) {
	var got deliverRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/notifications/deliver" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, "", 5*time.Second)
	if err := d.DeliverFinal(context.Background(), []string{"r1", "r2"}, "msg-2"); err != nil {
		t.Fatalf("DeliverFinal: %v", err)
	}
	if len(got.RecipientRefs) != 2 || got.MessageRef != "msg-2" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookDispatcher_GatewayErrorIsDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, "", 5*time.Second)
	err := d.DeliverFinal(context.Background(), []string{"r1"}, "msg-3")
	if !errors.Is(err, model.ErrDispatchFailure) {
		t.Fatalf("expected ErrDispatchFailure, got %v", err)
	}
}

func TestWebhookDispatcher_TimeoutIsDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, "", 20*time.Millisecond)
	err := d.RemindOwner(context.Background(), "owner-1", "msg-4")
	if !errors.Is(err, model.ErrDispatchFailure) {
		t.Fatalf("expected ErrDispatchFailure on timeout, got %v", err)
	}
}
