package udp

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
	"github.com/sean-rowe/wip-server/internal/core/services"
)

// QueryHandler adapts a QueryService onto the generic UDP server
// scaffold.
type QueryHandler struct {
	Service *services.QueryService
	Auth    *AuthConfig
	Logger  *zap.Logger
	Audit   ports.AuditRepository
}

// Handle implements HandlerFunc for the Query server.
func (h *QueryHandler) Handle(ctx context.Context, data []byte, remote net.Addr) []byte {
	start := time.Now()

	req, err := codec.Decode(data)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, req.Header.AreaCode, err, remote, start)
	}

	if h.Auth != nil && h.Auth.Enabled {
		if err := verifyAuth(req, h.Auth); err != nil {
			return h.errorBytes(req.Header.PacketID, req.Header.AreaCode, err, remote, start)
		}
	}

	resp, err := h.Service.Build(ctx, req)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, req.Header.AreaCode, err, remote, start)
	}

	h.record(req, remote, 0, start, nil)

	out, err := codec.Encode(resp)
	if err != nil {
		h.Logger.Error("failed to encode query response", zap.Error(err))
		return nil
	}

	return out
}

func (h *QueryHandler) errorBytes(packetID uint16, areaCode uint32, cause error, remote net.Addr, start time.Time) []byte {
	code := services.ErrorCodeFor(cause)
	h.record(domain.Packet{Header: domain.Header{PacketID: packetID, AreaCode: areaCode}}, remote, uint8(code), start, cause)

	errPkt := services.BuildErrorResponse(packetID, code, cause.Error(), uint64(time.Now().Unix()))

	out, err := codec.Encode(errPkt)
	if err != nil {
		h.Logger.Error("failed to encode error response", zap.Error(err))
		return nil
	}

	return out
}

func (h *QueryHandler) record(req domain.Packet, remote net.Addr, resultCode uint8, start time.Time, cause error) {
	if h.Audit == nil {
		return
	}

	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	_ = h.Audit.LogPacket(context.Background(), ports.AuditRecord{
		Role:         domain.RoleQuery,
		PacketID:     req.Header.PacketID,
		Type:         req.Header.Type,
		AreaCode:     req.Header.AreaCode,
		RemoteAddr:   remote.String(),
		ResultCode:   resultCode,
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorMessage: errMsg,
	})
}
