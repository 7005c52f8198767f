package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/hub"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/bridge"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

const (
	maxMessageSize = 64 * 1024
)

// ClientAdapter is one content context connected over WebSocket. Commands are
// forwarded to the store owner's queue in the order they arrive on the
// connection, and each ack is written back once it comes.
type ClientAdapter struct {
	conn     net.Conn
	hub      *hub.Hub
	commands bridge.Sender
	send     chan []byte
	logger   *zap.Logger

	closeOnce sync.Once
	done      chan struct{}

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, commands bridge.Sender, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:       conn,
		hub:        h,
		commands:   commands,
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }

// Close stops the write pump, which closes the connection.
func (c *ClientAdapter) Close() { c.closeOnce.Do(func() { close(c.done) }) }

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Encoding frame failed", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

func (c *ClientAdapter) SendBytes(b []byte) {
	select {
	case c.send <- b:
	case <-c.done:
	default:
		// Drop message if buffer full (Backpressure)
		c.logger.Warn("Send buffer full, dropping frame", zap.String("client", c.ID()))
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		case ws.OpText:
			// Any traffic proves the peer is alive
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

			var cmd protocol.Command
			if err := json.Unmarshal(payload, &cmd); err != nil {
				c.SendJSON(protocol.Ack{Status: protocol.StatusError, Message: "Invalid JSON"})
				continue
			}
			c.SendJSON(c.forward(cmd))
		}
	}
}

// forward hands cmd to the command queue. A command the queue did not ack in
// time may still be applied later; the client sees an error ack and may retry.
func (c *ClientAdapter) forward(cmd protocol.Command) protocol.Ack {
	ack, err := c.commands.Send(context.Background(), cmd)
	if err != nil {
		c.logger.Warn("Command not acknowledged", zap.String("id", cmd.ID), zap.Error(err))
		return protocol.Ack{ID: cmd.ID, Status: protocol.StatusError, Message: err.Error()}
	}
	return ack
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.Write(ws.CompiledClose)
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
