// Package store implements the relay's bounded offline message queue: a
// StoredMessage is buffered ciphertext waiting for a recipient to
// reconnect, capped at 10,000 entries per recipient and expired after 7
// days. Two backends ship: an in-process map for single-instance
// deployments, and a minio-backed object store for a stateless fleet where
// any instance may serve a reconnecting recipient.
package store

import (
	"context"
	"time"
)

// DefaultCapacityPerRecipient is the maximum number of buffered messages
// held for any one recipient before the oldest is dropped.
const DefaultCapacityPerRecipient = 10_000

// DefaultExpiry is how long a buffered message may wait before it is
// purged as undeliverable.
const DefaultExpiry = 7 * 24 * time.Hour

// StoredMessage is one buffered wire frame awaiting delivery.
type StoredMessage struct {
	RecipientID string
	Sequence    uint32
	Frame       []byte
	StoredAt    time.Time
}

// MessageStore persists StoredMessages for offline recipients.
type MessageStore interface {
	// Enqueue buffers msg for later delivery, evicting the oldest entry
	// for that recipient if the per-recipient cap is exceeded.
	Enqueue(ctx context.Context, msg StoredMessage) error
	// Drain returns and removes every buffered message for recipientID,
	// in ascending sequence order.
	Drain(ctx context.Context, recipientID string) ([]StoredMessage, error)
	// Count reports how many messages are currently buffered for
	// recipientID.
	Count(ctx context.Context, recipientID string) (int, error)
	// Purge removes every message stored before cutoff.
	Purge(ctx context.Context, cutoff time.Time) error
}
