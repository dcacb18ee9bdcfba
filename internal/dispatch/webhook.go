package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/everkeep/everkeep/server/internal/model"
)

// WebhookDispatcher posts reminder and delivery requests to the channel
// gateway over HTTP. Any non-2xx response or transport failure surfaces
// as model.ErrDispatchFailure; the caller's retry strategy decides what
// happens next.
type WebhookDispatcher struct {
	client *resty.Client
}

// NewWebhookDispatcher creates a dispatcher against the gateway base URL.
// token may be empty for unauthenticated local gateways.
func NewWebhookDispatcher(baseURL, token string, timeout time.Duration) *WebhookDispatcher {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &WebhookDispatcher{client: c}
}

type remindRequest struct {
	OwnerRef   string `json:"ownerRef"`
	MessageRef string `json:"messageRef"`
}

type deliverRequest struct {
	RecipientRefs []string `json:"recipientRefs"`
	MessageRef    string   `json:"messageRef"`
}

// RemindOwner implements Dispatcher.
func (d *WebhookDispatcher) RemindOwner(ctx context.Context, ownerRef, messageRef string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(&remindRequest{OwnerRef: ownerRef, MessageRef: messageRef}).
		Post("/v1/notifications/remind")
	if err != nil {
		return fmt.Errorf("remind owner %s: %v: %w", ownerRef, err, model.ErrDispatchFailure)
	}
	if resp.IsError() {
		return fmt.Errorf("remind owner %s: gateway returned %s: %w", ownerRef, resp.Status(), model.ErrDispatchFailure)
	}
	return nil
}

// DeliverFinal implements Dispatcher.
func (d *WebhookDispatcher) DeliverFinal(ctx context.Context, recipientRefs []string, messageRef string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(&deliverRequest{RecipientRefs: recipientRefs, MessageRef: messageRef}).
		Post("/v1/notifications/deliver")
	if err != nil {
		return fmt.Errorf("deliver message %s: %v: %w", messageRef, err, model.ErrDispatchFailure)
	}
	if resp.IsError() {
		return fmt.Errorf("deliver message %s: gateway returned %s: %w", messageRef, resp.Status(), model.ErrDispatchFailure)
	}
	return nil
}
