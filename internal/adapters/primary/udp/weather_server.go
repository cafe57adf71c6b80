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

// WeatherHandler adapts a WeatherPipeline onto the generic UDP server
// scaffold, orchestrating the Location and Query upstream hops through
// the state machine (Received -> NeedsResolve / HasArea -> QueryIssued
// -> ResponseReady -> Sent).
type WeatherHandler struct {
	Pipeline *services.WeatherPipeline
	IDGen    *codec.IDGenerator

	LocationClient  ports.UpstreamClient
	LocationAddr    string
	LocationTimeout time.Duration

	QueryClient  ports.UpstreamClient
	QueryAddr    string
	QueryTimeout time.Duration

	ClientAuth   *AuthConfig
	UpstreamAuth *AuthConfig

	Audit  ports.AuditRepository
	Logger *zap.Logger
}

// Handle implements HandlerFunc for the Weather server.
func (h *WeatherHandler) Handle(ctx context.Context, data []byte, remote net.Addr) []byte {
	start := time.Now()

	req, err := codec.Decode(data)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, err, remote, start)
	}

	if h.ClientAuth != nil && h.ClientAuth.Enabled {
		if err := verifyAuth(req, h.ClientAuth); err != nil {
			return h.errorBytes(req.Header.PacketID, err, remote, start)
		}
	}

	kind, err := h.Pipeline.Classify(req)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, err, remote, start)
	}

	areaCode := req.Header.AreaCode

	if kind == services.KindNeedsResolve {
		resolved, err := h.resolveArea(ctx, req, remote)
		if err != nil {
			return h.errorBytes(req.Header.PacketID, err, remote, start)
		}

		areaCode = resolved
	}

	queryResp, err := h.issueQuery(ctx, req, areaCode)
	if err != nil {
		return h.errorBytes(req.Header.PacketID, err, remote, start)
	}

	if queryResp.Header.Type == domain.ErrorResponse {
		code := domain.ErrorCode(queryResp.Body.WeatherCode)
		return h.errorBytes(req.Header.PacketID, domain.NewProtocolError(code, "query server reported an error", nil), remote, start)
	}

	clientResp := h.Pipeline.BuildClientResponse(req.Header.PacketID, queryResp)

	h.record(req, remote, 0, start, nil)

	out, err := codec.Encode(clientResp)
	if err != nil {
		h.Logger.Error("failed to encode weather response", zap.Error(err))
		return nil
	}

	return out
}

func (h *WeatherHandler) resolveArea(ctx context.Context, req domain.Packet, remote net.Addr) (uint32, error) {
	coords, err := h.Pipeline.Coordinates(req)
	if err != nil {
		return 0, err
	}

	timeout := h.LocationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	hopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	upstreamID := h.IDGen.Next()
	locReq := h.Pipeline.BuildLocationRequest(upstreamID, coords, remote.String(), uint64(time.Now().Unix()))
	locReq = h.signUpstream(locReq)

	resp, err := h.LocationClient.Send(hopCtx, h.LocationAddr, locReq)
	if err != nil {
		return 0, domain.NewProtocolError(domain.ErrTimeout, "location hop failed", err)
	}

	if resp.Header.Type == domain.ErrorResponse {
		return 0, domain.NewProtocolError(domain.ErrorCode(resp.Body.WeatherCode), "location server reported an error", nil)
	}

	return resp.Header.AreaCode, nil
}

func (h *WeatherHandler) issueQuery(ctx context.Context, req domain.Packet, areaCode uint32) (domain.Packet, error) {
	timeout := h.QueryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	hopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	upstreamID := h.IDGen.Next()
	queryReq := h.Pipeline.BuildQueryRequest(upstreamID, areaCode, req.Header, uint64(time.Now().Unix()))
	queryReq = h.signUpstream(queryReq)

	resp, err := h.QueryClient.Send(hopCtx, h.QueryAddr, queryReq)
	if err != nil {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrTimeout, "query hop failed", err)
	}

	return resp, nil
}

func (h *WeatherHandler) signUpstream(pkt domain.Packet) domain.Packet {
	if h.UpstreamAuth == nil || !h.UpstreamAuth.Enabled {
		return pkt
	}

	digest := auth.Compute(pkt.Header.PacketID, pkt.Header.Timestamp, h.UpstreamAuth.Passphrase)
	pkt.Header.ExFlag = true
	pkt.Extended = append(pkt.Extended, domain.ExtendedField{Type: domain.FieldAuthHash, Value: digest[:]})

	return pkt
}

func (h *WeatherHandler) errorBytes(packetID uint16, cause error, remote net.Addr, start time.Time) []byte {
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

func (h *WeatherHandler) record(req domain.Packet, remote net.Addr, resultCode uint8, start time.Time, cause error) {
	if h.Audit == nil {
		return
	}

	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	_ = h.Audit.LogPacket(context.Background(), ports.AuditRecord{
		Role:         domain.RoleWeather,
		PacketID:     req.Header.PacketID,
		Type:         req.Header.Type,
		AreaCode:     req.Header.AreaCode,
		RemoteAddr:   remote.String(),
		ResultCode:   resultCode,
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorMessage: errMsg,
	})
}
