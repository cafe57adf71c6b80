package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
)

// LocationService implements the Location server's single operation:
// resolve a coordinate pair to an area_code via the injected
// AreaResolver, and shape the LocationResponse packet.
type LocationService struct {
	resolver ports.AreaResolver
	logger   *zap.Logger
}

// NewLocationService builds a LocationService backed by resolver.
func NewLocationService(resolver ports.AreaResolver, logger *zap.Logger) *LocationService {
	return &LocationService{resolver: resolver, logger: logger}
}

// Resolve validates the request's coordinates and looks up the
// containing area, returning a fully-shaped LocationResponse packet on
// success. On failure it returns the error unchanged so the caller can
// translate it into an ErrorResponse.
func (s *LocationService) Resolve(ctx context.Context, req domain.Packet) (domain.Packet, error) {
	latField, ok := req.Field(domain.FieldLatitude)
	if !ok || len(latField.Value) != 4 {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrMissingRequiredData, "missing or malformed latitude field", nil)
	}

	lonField, ok := req.Field(domain.FieldLongitude)
	if !ok || len(lonField.Value) != 4 {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrMissingRequiredData, "missing or malformed longitude field", nil)
	}

	coords := domain.Coordinates{
		Latitude:  float64(decodeFloat32(latField.Value)),
		Longitude: float64(decodeFloat32(lonField.Value)),
	}

	if err := coords.Validate(); err != nil {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, err.Error(), err)
	}

	areaCode, err := s.resolver.Resolve(ctx, coords)
	if err != nil {
		s.logger.Debug("area resolution failed",
			zap.Float64("latitude", coords.Latitude),
			zap.Float64("longitude", coords.Longitude),
			zap.Error(err))

		return domain.Packet{}, err
	}

	return domain.Packet{
		Header: domain.Header{
			Version:   domain.ProtocolVersion,
			PacketID:  req.Header.PacketID,
			Type:      domain.LocationResponse,
			AreaCode:  areaCode,
			Timestamp: req.Header.Timestamp,
		},
	}, nil
}
