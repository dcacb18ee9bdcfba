// Package dispatch defines the outbound notification contract. The actual
// channel mechanics (email, WhatsApp, push) live behind a gateway service;
// this engine only needs at-least-once semantics and an error outcome.
package dispatch

import "context"

// Dispatcher turns schedule work items into user-visible notifications.
type Dispatcher interface {
	// RemindOwner nudges the message owner to check in.
	RemindOwner(ctx context.Context, ownerRef, messageRef string) error
	// DeliverFinal releases the message to its recipients.
	DeliverFinal(ctx context.Context, recipientRefs []string, messageRef string) error
}
