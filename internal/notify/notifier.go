// Package notify defines the notification sink the engine pushes swap
// lifecycle events into. The sink is a best-effort side channel: failures
// are recoverable, logged by the caller, and never roll back domain state.
package notify

import (
	"context"
	"log"
	"os"
	"sync"
)

// Payload carries the event data delivered to a recipient.
type Payload map[string]any

// Notifier delivers events to recipients. Implementations may fail
// silently and must not block the caller beyond a short bounded interval.
type Notifier interface {
	Notify(ctx context.Context, recipientID, eventKind string, payload Payload) error
}

// LogNotifier writes notifications to a logger. It is the default sink
// when no push channel is configured.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger defaults to stdout.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

var _ Notifier = (*LogNotifier)(nil)

// Notify logs the event. Never fails.
func (n *LogNotifier) Notify(_ context.Context, recipientID, eventKind string, payload Payload) error {
	n.logger.Printf("notify %s: %s %v", recipientID, eventKind, payload)
	return nil
}

// Delivered is one recorded notification.
type Delivered struct {
	RecipientID string
	EventKind   string
	Payload     Payload
}

// RecordingNotifier records notifications in memory for tests.
type RecordingNotifier struct {
	mu        sync.Mutex
	delivered []Delivered
	failWith  error
}

// NewRecordingNotifier creates an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

var _ Notifier = (*RecordingNotifier)(nil)

// FailWith makes every subsequent Notify return err. Pass nil to recover.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failWith = err
}

// Notify records the event, or fails if FailWith was set.
func (n *RecordingNotifier) Notify(_ context.Context, recipientID, eventKind string, payload Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failWith != nil {
		return n.failWith
	}

	n.delivered = append(n.delivered, Delivered{
		RecipientID: recipientID,
		EventKind:   eventKind,
		Payload:     payload,
	})
	return nil
}

// Deliveries returns a copy of everything recorded so far.
func (n *RecordingNotifier) Deliveries() []Delivered {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Delivered, len(n.delivered))
	copy(out, n.delivered)
	return out
}

// For returns recorded notifications addressed to recipientID.
func (n *RecordingNotifier) For(recipientID string) []Delivered {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []Delivered
	for _, d := range n.delivered {
		if d.RecipientID == recipientID {
			out = append(out, d)
		}
	}
	return out
}
