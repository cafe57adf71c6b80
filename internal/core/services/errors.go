package services

import (
	"errors"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// BuildErrorResponse assembles a type=7 ErrorResponse packet preserving
// packetID, shared by all four WIP servers.
func BuildErrorResponse(packetID uint16, code domain.ErrorCode, message string, now uint64) domain.Packet {
	pkt := domain.Packet{
		Header: domain.Header{
			Version:   domain.ProtocolVersion,
			PacketID:  packetID,
			Type:      domain.ErrorResponse,
			Timestamp: now,
		},
		Body: domain.Body{WeatherCode: uint16(code)},
	}

	if message != "" {
		pkt.Header.ExFlag = true
		pkt.Extended = []domain.ExtendedField{
			{Type: domain.FieldErrorMessage, Value: []byte(message)},
		}
	}

	return pkt
}

// ErrorCodeFor maps an error returned by the core services into the
// ErrorCode carried on an ErrorResponse packet.
func ErrorCodeFor(err error) domain.ErrorCode {
	var protoErr *domain.ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}

	return domain.ErrServerError
}
