// Package bridge carries watchlist commands from a content context to the
// context that owns the store, and carries the acknowledgment back.
//
// Delivery is at-least-once: a command that timed out may still be applied,
// and a retry may apply it twice. Receivers make that safe by treating every
// command as an idempotent upsert or delete keyed by symbol.
package bridge

import (
	"context"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

// Sender delivers one command and waits for its ack. A command that is not
// acknowledged in time fails with models.ErrTimeout.
type Sender interface {
	Send(ctx context.Context, cmd protocol.Command) (protocol.Ack, error)
}

// Handler applies a command on the receiving side.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command) protocol.Ack
}

type HandlerFunc func(ctx context.Context, cmd protocol.Command) protocol.Ack

func (f HandlerFunc) Handle(ctx context.Context, cmd protocol.Command) protocol.Ack {
	return f(ctx, cmd)
}
