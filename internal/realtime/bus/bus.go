package bus

import (
	"context"

	"github.com/paperplanet/paperplanet-backend/internal/realtime"
)

// Bus relays room events between instances. Events published here were
// already persisted by the origin instance; subscribers only re-broadcast
// to their local members.
type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error
	StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error
	Close() error
}

// Noop is the single-instance bus.
type Noop struct{}

func (Noop) Publish(context.Context, realtime.Event) error                  { return nil }
func (Noop) StartForwarder(context.Context, func(ev realtime.Event)) error { return nil }
func (Noop) Close() error                                                  { return nil }
