// Package events publishes the progress of a dispatched batch.
package events

import (
	"context"
	"time"

	"github.com/vk/featflow/internal/ctxlog"
)

// Kind is the lifecycle stage of one unit.
type Kind string

const (
	Started  Kind = "started"
	Finished Kind = "finished"
	Failed   Kind = "failed"
)

// Event reports one unit of a batch changing state.
type Event struct {
	Batch string    `json:"batch"`
	Kind  Kind      `json:"kind"`
	Index int       `json:"index"`
	Unit  string    `json:"unit"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// Fields renders the event as a plain map for transports that take one.
func (e Event) Fields() map[string]any {
	m := map[string]any{
		"batch": e.Batch,
		"kind":  string(e.Kind),
		"index": e.Index,
		"unit":  e.Unit,
		"time":  e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// Publisher receives batch events. Implementations must be safe for
// concurrent use; parallel dispatch publishes from several workers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// LogPublisher writes events to the context logger.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, e Event) {
	logger := ctxlog.FromContext(ctx).With("batch", e.Batch, "index", e.Index, "unit", e.Unit)
	switch e.Kind {
	case Failed:
		logger.Error("Unit failed.", "error", e.Error)
	case Finished:
		logger.Info("Unit finished.")
	default:
		logger.Debug("Unit started.")
	}
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// Multi publishes to every publisher in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Close closes every publisher and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
