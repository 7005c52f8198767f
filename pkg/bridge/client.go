package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

// ErrRejected wraps a negative ack from the receiver
var ErrRejected = errors.New("command rejected")

// Client owns the retry policy for a Sender: a timed-out command is resent
// at most once, with the same ID.
type Client struct {
	sender     Sender
	logger     *zap.Logger
	maxRetries int
}

func NewClient(sender Sender, logger *zap.Logger, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 1 {
		maxRetries = 1
	}
	return &Client{sender: sender, logger: logger, maxRetries: maxRetries}
}

// Submit sends cmd and returns its positive ack. A negative ack is returned
// as ErrRejected and never retried.
func (c *Client) Submit(ctx context.Context, cmd protocol.Command) (protocol.Ack, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying unacknowledged command", zap.String("id", cmd.ID), zap.String("type", cmd.Type))
		}

		ack, err := c.sender.Send(ctx, cmd)
		if err == nil {
			if !ack.OK() {
				return ack, fmt.Errorf("%w: %s", ErrRejected, ack.Message)
			}
			return ack, nil
		}

		lastErr = err
		if !errors.Is(err, models.ErrTimeout) {
			break
		}
	}
	return protocol.Ack{}, lastErr
}
