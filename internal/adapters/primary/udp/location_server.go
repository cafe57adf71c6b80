package udp

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/auth"
	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
	"github.com/sean-rowe/wip-server/internal/core/services"
)

// LocationHandler adapts a LocationService onto the generic UDP server
// scaffold, applying authentication and translating errors into
// ErrorResponse packets.
type LocationHandler struct {
	Service  *services.LocationService
	Auth     *AuthConfig
	Logger   *zap.Logger
	Audit    ports.AuditRepository
}

// Handle implements HandlerFunc for the Location server.
func (h *LocationHandler) Handle(ctx context.Context, data []byte, remote net.Addr) []byte {
	start := time.Now()

	req, err := codec.Decode(data)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, err, remote, start)
	}

	if h.Auth != nil && h.Auth.Enabled {
		if err := verifyAuth(req, h.Auth); err != nil {
			return h.errorBytes(req.Header.PacketID, err, remote, start)
		}
	}

	resp, err := h.Service.Resolve(ctx, req)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, err, remote, start)
	}

	h.record(req, remote, 0, start, nil)

	out, err := codec.Encode(resp)
	if err != nil {
		h.Logger.Error("failed to encode location response", zap.Error(err))
		return nil
	}

	return out
}

func (h *LocationHandler) errorBytes(packetID uint16, cause error, remote net.Addr, start time.Time) []byte {
	code := services.ErrorCodeFor(cause)
	h.record(domain.Packet{Header: domain.Header{PacketID: packetID}}, remote, uint8(code), start, cause)

	errPkt := services.BuildErrorResponse(packetID, code, cause.Error(), uint64(time.Now().Unix()))

	out, err := codec.Encode(errPkt)
	if err != nil {
		h.Logger.Error("failed to encode error response", zap.Error(err))
		return nil
	}

	return out
}

func (h *LocationHandler) record(req domain.Packet, remote net.Addr, resultCode uint8, start time.Time, cause error) {
	if h.Audit == nil {
		return
	}

	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	_ = h.Audit.LogPacket(context.Background(), ports.AuditRecord{
		Role:         domain.RoleLocation,
		PacketID:     req.Header.PacketID,
		Type:         req.Header.Type,
		AreaCode:     req.Header.AreaCode,
		RemoteAddr:   remote.String(),
		ResultCode:   resultCode,
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorMessage: errMsg,
	})
}

// AuthConfig carries the per-role passphrase and skew tolerance used to
// verify inbound requests.
type AuthConfig struct {
	Enabled    bool
	Passphrase string
	MaxSkew    time.Duration
}

// verifyAuth checks req's auth_hash extended field against cfg, if
// present and enabled.
func verifyAuth(req domain.Packet, cfg *AuthConfig) error {
	field, ok := req.Field(domain.FieldAuthHash)
	if !ok {
		return domain.NewProtocolError(domain.ErrAuthFailure, "auth_hash field required but missing", nil)
	}

	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = auth.DefaultMaxSkew
	}

	return auth.Verify(req.Header.PacketID, req.Header.Timestamp, cfg.Passphrase, field.Value, time.Now(), maxSkew)
}
