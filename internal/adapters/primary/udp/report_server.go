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

// ReportHandler adapts a ReportService onto the generic UDP server
// scaffold. Unlike the other roles, a ReportService failure still
// produces a well-formed ReportResponse (with a nonzero result code)
// rather than an ErrorResponse: the handler encodes whichever packet the
// service returns and only falls back to ErrorResponse for failures the
// service itself could not shape one for (decode/auth failures, store
// outages).
type ReportHandler struct {
	Service *services.ReportService
	Auth    *AuthConfig
	Logger  *zap.Logger
	Audit   ports.AuditRepository
}

// Handle implements HandlerFunc for the Report server.
func (h *ReportHandler) Handle(ctx context.Context, data []byte, remote net.Addr) []byte {
	start := time.Now()

	req, decodeErr := codec.Decode(data)
	if decodeErr != nil {
		return h.errorBytes(req.Header.PacketID, req.Header.AreaCode, decodeErr, remote, start)
	}

	reporter := domain.ReporterIdentity{RemoteAddr: remote.String()}

	if h.Auth != nil && h.Auth.Enabled {
		if err := verifyAuth(req, h.Auth); err != nil {
			return h.errorBytes(req.Header.PacketID, req.Header.AreaCode, err, remote, start)
		}

		reporter.Role = string(domain.RoleReport)
	}

	resp, applyErr := h.Service.Apply(ctx, req, reporter)

	// A validation rejection still produced a well-formed
	// ReportResponse; only an error that came with no ReportResponse
	// (store failure) escalates to ErrorResponse.
	if applyErr != nil && resp.Header.Type != domain.ReportResponse {
		return h.errorBytes(req.Header.PacketID, req.Header.AreaCode, applyErr, remote, start)
	}

	resultCode := uint8(0)
	if applyErr != nil {
		resultCode = uint8(services.ReportRejected)
	}

	h.record(req, remote, resultCode, start, applyErr)

	out, err := codec.Encode(resp)
	if err != nil {
		h.Logger.Error("failed to encode report response", zap.Error(err))
		return nil
	}

	return out
}

func (h *ReportHandler) errorBytes(packetID uint16, areaCode uint32, cause error, remote net.Addr, start time.Time) []byte {
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

func (h *ReportHandler) record(req domain.Packet, remote net.Addr, resultCode uint8, start time.Time, cause error) {
	if h.Audit == nil {
		return
	}

	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	_ = h.Audit.LogPacket(context.Background(), ports.AuditRecord{
		Role:         domain.RoleReport,
		PacketID:     req.Header.PacketID,
		Type:         req.Header.Type,
		AreaCode:     req.Header.AreaCode,
		RemoteAddr:   remote.String(),
		ResultCode:   resultCode,
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorMessage: errMsg,
	})
}
