// Package wipclient implements ports.UpstreamClient over a single
// shared UDP socket, demultiplexing responses by packet id via a
// correlation map rather than opening one socket per request.
package wipclient

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/adapters/primary/udp"
	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// Client sends requests to upstream WIP servers over one shared,
// unconnected UDP socket and correlates inbound responses by packet id.
type Client struct {
	conn        *net.UDPConn
	correlation *udp.CorrelationMap
	logger      *zap.Logger

	closed chan struct{}
}

// New opens the shared outbound socket and starts its response read
// loop and correlation reaper.
func New(logger *zap.Logger) (*Client, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:        conn,
		correlation: udp.NewCorrelationMap(),
		logger:      logger,
		closed:      make(chan struct{}),
	}

	go c.readLoop()
	go c.reapLoop()

	return c, nil
}

// Close shuts down the shared socket and its background goroutines.
func (c *Client) Close() error {
	close(c.closed)
	return c.conn.Close()
}

// Send implements ports.UpstreamClient.
func (c *Client) Send(ctx context.Context, addr string, req domain.Packet) (domain.Packet, error) {
	upstreamAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrServerError, "could not resolve upstream address", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	resultCh := c.correlation.Register(req.Header.PacketID, deadline)

	encoded, err := codec.Encode(req)
	if err != nil {
		c.correlation.Forget(req.Header.PacketID)
		return domain.Packet{}, err
	}

	if _, err := c.conn.WriteToUDP(encoded, upstreamAddr); err != nil {
		c.correlation.Forget(req.Header.PacketID)
		return domain.Packet{}, domain.NewProtocolError(domain.ErrServerError, "failed to send upstream request", err)
	}

	select {
	case resp := <-resultCh:
		return resp, nil
	case <-ctx.Done():
		c.correlation.Forget(req.Header.PacketID)
		return domain.Packet{}, domain.NewProtocolError(domain.ErrTimeout, "upstream request timed out", ctx.Err())
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, domain.MaxDatagramSize)

	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}

			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		pkt, err := codec.Decode(data)
		if err != nil {
			c.logger.Debug("discarding malformed upstream response", zap.Error(err))
			continue
		}

		if !c.correlation.Resolve(pkt) {
			c.logger.Debug("no waiter for upstream response", zap.Uint16("packet_id", pkt.Header.PacketID))
		}
	}
}

func (c *Client) reapLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case now := <-ticker.C:
			c.correlation.Reap(now)
		}
	}
}
