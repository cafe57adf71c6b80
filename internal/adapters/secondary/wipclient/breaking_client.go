package wipclient

import (
	"context"

	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
	"github.com/sean-rowe/wip-server/internal/infrastructure/circuitbreaker"
)

// BreakingClient wraps a ports.UpstreamClient with circuit breaker
// protection so a failing Location or Query hop trips open instead of
// stalling every Weather request behind it.
type BreakingClient struct {
	inner   ports.UpstreamClient
	breaker *circuitbreaker.CircuitBreakerWrapper
	name    string
}

// NewBreakingClient wraps inner with breaker, using name to label the
// operation in logs and traces.
func NewBreakingClient(inner ports.UpstreamClient, breaker *circuitbreaker.CircuitBreakerWrapper, name string) *BreakingClient {
	return &BreakingClient{inner: inner, breaker: breaker, name: name}
}

// Send implements ports.UpstreamClient.
func (c *BreakingClient) Send(ctx context.Context, addr string, req domain.Packet) (domain.Packet, error) {
	var resp domain.Packet

	err := c.breaker.Execute(ctx, c.name, func() error {
		var sendErr error
		resp, sendErr = c.inner.Send(ctx, addr, req)
		return sendErr
	})
	if err != nil {
		return domain.Packet{}, err
	}

	return resp, nil
}
