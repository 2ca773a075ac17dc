// Package events is the marketplace's notification emitter. Events are
// observer-only: sinks publish them outward and nothing reads them back.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/google/uuid"
)

// Sink receives every emitted event.
type Sink interface {
	Name() string
	Handle(ctx context.Context, evt domain.Event) error
}

// Dispatcher stamps events and fans them out to its sinks in order. Sink
// failures are logged and never reach the emitting operation.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewDispatcher creates a Dispatcher over sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "events")),
		nowFn:  time.Now,
	}
}

// Emit implements domain.Emitter.
func (d *Dispatcher) Emit(ctx context.Context, evt domain.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.EmittedAt.IsZero() {
		evt.EmittedAt = d.nowFn().UTC()
	}

	// Sinks run after the operation's effects are final; the caller's
	// cancellation must not drop the announcement.
	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		if err := s.Handle(ctx, evt); err != nil {
			d.logger.WarnContext(ctx, "events: sink failed",
				slog.String("sink", s.Name()),
				slog.String("event", string(evt.Type)),
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	d.logger.DebugContext(ctx, "events: emitted",
		slog.String("event", string(evt.Type)),
		slog.Uint64("asset_id", uint64(evt.AssetID)),
	)
}

var _ domain.Emitter = (*Dispatcher)(nil)
