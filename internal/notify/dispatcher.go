// Package notify implements the notification dispatcher: an append-only
// outbox keyed by recipient plus an outbound event channel drained by a
// delivery worker. Dispatch is best-effort; it never fails or rolls back the
// stage transition that triggered it.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ferreiralabs/settra/model"
)

const defaultQueueSize = 256

// Dispatcher appends notifications to per-recipient outboxes and pushes
// each one onto the outbound queue for the delivery worker. Safe for
// concurrent use.
type Dispatcher struct {
	logger *zap.Logger

	mu          sync.RWMutex
	byRecipient map[string][]string
	byID        map[string]*model.Notification

	// lastMissing fingerprints the last missing-document set notified per
	// transaction, so repeated blocked advances don't storm the outbox.
	lastMissing map[string]string

	queue chan model.Notification
}

// NewDispatcher creates a dispatcher with the given outbound queue size.
// A non-positive size falls back to the default.
func NewDispatcher(logger *zap.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		logger:      logger,
		byRecipient: make(map[string][]string),
		byID:        make(map[string]*model.Notification),
		lastMissing: make(map[string]string),
		queue:       make(chan model.Notification, queueSize),
	}
}

// Notify appends a notification to the recipient's outbox and enqueues it
// for delivery. The enqueue is non-blocking: if the queue is full the event
// is logged and dropped, delivery being best-effort by contract.
func (d *Dispatcher) Notify(txID, recipient, typ, title, message string, actions ...string) model.Notification {
	n := model.Notification{
		ID:            uuid.New().String(),
		TransactionID: txID,
		Recipient:     recipient,
		Type:          typ,
		Title:         title,
		Message:       message,
		Actions:       actions,
		Timestamp:     time.Now().UTC(),
	}

	d.mu.Lock()
	d.byID[n.ID] = &n
	d.byRecipient[recipient] = append(d.byRecipient[recipient], n.ID)
	d.mu.Unlock()

	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping outbound event",
			zap.String("transaction_id", txID),
			zap.String("type", typ),
		)
	}
	return n
}

// DocumentPending notifies the recipient about missing required documents.
// It dedupes on the missing set: a second call with the same set for the
// same transaction is a no-op. Returns true if a notification was emitted.
func (d *Dispatcher) DocumentPending(txID, recipient string, missing []model.DocumentType) bool {
	fp := fingerprint(missing)

	d.mu.Lock()
	if d.lastMissing[txID] == fp {
		d.mu.Unlock()
		return false
	}
	d.lastMissing[txID] = fp
	d.mu.Unlock()

	names := make([]string, len(missing))
	for i, dt := range missing {
		names[i] = string(dt)
	}
	d.Notify(txID, recipient, model.NotifyDocumentPending,
		"Documents pending",
		fmt.Sprintf("Waiting on documents: %s", strings.Join(names, ", ")),
		"submit_documents",
	)
	return true
}

// For returns the recipient's notifications, newest first.
func (d *Dispatcher) For(recipient string) []model.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := d.byRecipient[recipient]
	out := make([]model.Notification, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if n := d.byID[ids[i]]; n != nil {
			out = append(out, *n)
		}
	}
	return out
}

// MarkRead flags a notification as read.
func (d *Dispatcher) MarkRead(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.byID[id]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("notification %q not found", id))
	}
	n.Read = true
	return nil
}

// Events exposes the outbound queue for the delivery worker.
func (d *Dispatcher) Events() <-chan model.Notification {
	return d.queue
}

// fingerprint produces an order-insensitive key for a missing-document set.
func fingerprint(missing []model.DocumentType) string {
	keys := make([]string, len(missing))
	for i, dt := range missing {
		keys[i] = string(dt)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
