package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

type envelope struct {
	cmd   protocol.Command
	reply chan protocol.Ack
}

// Channel is an in-process bridge over a bounded queue. Commands sent before
// the receiver calls Serve wait in the queue and are delivered once it does.
type Channel struct {
	queue      chan envelope
	ackTimeout time.Duration
}

func NewChannel(buffer int, ackTimeout time.Duration) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{
		queue:      make(chan envelope, buffer),
		ackTimeout: ackTimeout,
	}
}

func (c *Channel) Send(ctx context.Context, cmd protocol.Command) (protocol.Ack, error) {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	env := envelope{cmd: cmd, reply: make(chan protocol.Ack, 1)}

	select {
	case c.queue <- env:
	case <-timer.C:
		return protocol.Ack{}, fmt.Errorf("%w: %s queue full", models.ErrTimeout, cmd.ID)
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}

	select {
	case ack := <-env.reply:
		return ack, nil
	case <-timer.C:
		return protocol.Ack{}, fmt.Errorf("%w: %s", models.ErrTimeout, cmd.ID)
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}
}

// Serve delivers queued commands to h until ctx ends.
func (c *Channel) Serve(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-c.queue:
			// reply is buffered, so a sender that gave up never blocks us
			env.reply <- h.Handle(ctx, env.cmd)
		}
	}
}
