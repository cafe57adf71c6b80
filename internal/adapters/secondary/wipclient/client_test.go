package wipclient

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
)

func startEchoUpstream(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, domain.MaxDatagramSize)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			req, err := codec.Decode(buf[:n])
			if err != nil {
				continue
			}

			resp := domain.Packet{
				Header: domain.Header{
					Version:  domain.ProtocolVersion,
					PacketID: req.Header.PacketID,
					Type:     domain.LocationResponse,
					AreaCode: 130010,
				},
			}

			out, err := codec.Encode(resp)
			if err != nil {
				continue
			}

			_, _ = conn.WriteToUDP(out, remote)
		}
	}()

	return conn.LocalAddr().String()
}

func TestClientSendCorrelatesResponseByPacketID(t *testing.T) {
	addr := startEchoUpstream(t)

	c, err := New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	req := domain.Packet{
		Header: domain.Header{Version: domain.ProtocolVersion, PacketID: 0x77, Type: domain.LocationRequest, ExFlag: true},
		Extended: []domain.ExtendedField{
			{Type: domain.FieldLatitude, Value: []byte{0, 0, 0, 0}},
			{Type: domain.FieldLongitude, Value: []byte{0, 0, 0, 0}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Send(ctx, addr, req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.Header.PacketID != 0x77 {
		t.Fatalf("expected correlated response with packet_id 0x77, got %#x", resp.Header.PacketID)
	}
	if resp.Header.AreaCode != 130010 {
		t.Fatalf("expected area_code 130010, got %d", resp.Header.AreaCode)
	}
}

func TestClientSendTimesOutWhenNoResponseArrives(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()
	blackhole := conn.LocalAddr().String()

	c, err := New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, PacketID: 0x88, Type: domain.QueryRequest, AreaCode: 1}}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := c.Send(ctx, blackhole, req); err == nil {
		t.Fatal("expected a timeout error when the upstream never responds")
	}
}

func TestClientSendRejectsUnresolvableAddress(t *testing.T) {
	c, err := New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, PacketID: 1, Type: domain.QueryRequest, AreaCode: 1}}

	if _, err := c.Send(context.Background(), "not a valid addr::", req); err == nil {
		t.Fatal("expected error for an unresolvable upstream address")
	}
}

func TestClientHandlesConcurrentCorrelatedRequests(t *testing.T) {
	addr := startEchoUpstream(t)

	c, err := New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	const n = 20
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func(id uint16) {
			req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, PacketID: id, Type: domain.LocationRequest, ExFlag: true},
				Extended: []domain.ExtendedField{
					{Type: domain.FieldLatitude, Value: []byte{0, 0, 0, 0}},
					{Type: domain.FieldLongitude, Value: []byte{0, 0, 0, 0}},
				}}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			resp, err := c.Send(ctx, addr, req)
			if err != nil {
				errs <- err
				return
			}
			if resp.Header.PacketID != id {
				errs <- domain.NewProtocolError(domain.ErrServerError, "packet_id mismatch", nil)
				return
			}
			errs <- nil
		}(uint16(i + 1))
	}

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent send failed: %v", err)
		}
	}
}
