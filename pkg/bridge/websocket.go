package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

// WSSender talks to the background gateway over one WebSocket connection,
// dialed on first use and redialed after any failure. Anything that keeps an
// ack from arriving in time, including a gateway that is not running, is
// reported as models.ErrTimeout.
type WSSender struct {
	url        string
	dialer     *websocket.Dialer
	ackTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSSender(url string, ackTimeout time.Duration) *WSSender {
	return &WSSender{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: ackTimeout},
		ackTimeout: ackTimeout,
	}
}

func (s *WSSender) Send(ctx context.Context, cmd protocol.Command) (protocol.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if s.conn == nil {
		dctx, cancel := context.WithDeadline(ctx, deadline)
		conn, _, err := s.dialer.DialContext(dctx, s.url, nil)
		cancel()
		if err != nil {
			return protocol.Ack{}, fmt.Errorf("%w: dialing %s: %w", models.ErrTimeout, s.url, err)
		}
		s.conn = conn
	}

	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(cmd); err != nil {
		s.dropLocked()
		return protocol.Ack{}, fmt.Errorf("%w: writing %s: %w", models.ErrTimeout, cmd.ID, err)
	}

	s.conn.SetReadDeadline(deadline)
	for {
		var ack protocol.Ack
		if err := s.conn.ReadJSON(&ack); err != nil {
			// The connection is unusable after a read deadline
			s.dropLocked()
			return protocol.Ack{}, fmt.Errorf("%w: waiting for %s: %w", models.ErrTimeout, cmd.ID, err)
		}
		if ack.ID == cmd.ID {
			return ack, nil
		}
		// Late ack for an earlier, timed-out command
	}
}

func (s *WSSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *WSSender) dropLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
