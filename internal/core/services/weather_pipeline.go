// Package services implement the core business logic for WIP operations.
// This layer orchestrates packet validation, upstream request shaping, and
// response assembly, implementing the primary ports consumed by the UDP
// adapters in internal/adapters/primary/udp.
package services

import (
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// ClientRequestKind classifies a decoded client request for the Weather
// server's pipeline state machine.
type ClientRequestKind int

const (
	// KindRejected means the request does not satisfy any valid
	// transition out of the Received state.
	KindRejected ClientRequestKind = iota

	// KindNeedsResolve means a coordinate request must first be routed
	// through the Location server.
	KindNeedsResolve

	// KindHasArea means the request already carries a resolved area code.
	KindHasArea
)

// WeatherPipeline implements the pure packet-shaping logic of the Weather
// server's front-end state machine: classifying inbound client
// requests, building the upstream Location/Query requests, and assembling
// the final client-facing response. It performs no I/O; the UDP adapter
// owns sockets, correlation, and timeouts.
type WeatherPipeline struct {
	logger *zap.Logger
}

// NewWeatherPipeline builds a WeatherPipeline.
func NewWeatherPipeline(logger *zap.Logger) *WeatherPipeline {
	return &WeatherPipeline{logger: logger}
}

// Classify implements the Received -> {NeedsResolve, HasArea, Rejected}
// transition.
func (p *WeatherPipeline) Classify(req domain.Packet) (ClientRequestKind, error) {
	switch req.Header.Type {
	case domain.LocationRequest:
		if !req.Header.ExFlag {
			return KindRejected, domain.NewProtocolError(domain.ErrMissingRequiredData, "coordinate request missing extended fields", nil)
		}

		if _, ok := req.Field(domain.FieldLatitude); !ok {
			return KindRejected, domain.NewProtocolError(domain.ErrMissingRequiredData, "coordinate request missing latitude", nil)
		}

		if _, ok := req.Field(domain.FieldLongitude); !ok {
			return KindRejected, domain.NewProtocolError(domain.ErrMissingRequiredData, "coordinate request missing longitude", nil)
		}

		return KindNeedsResolve, nil

	case domain.QueryRequest:
		if req.Header.AreaCode == 0 {
			return KindRejected, domain.NewProtocolError(domain.ErrMissingRequiredData, "query request missing area_code", nil)
		}

		return KindHasArea, nil

	default:
		return KindRejected, domain.NewProtocolError(domain.ErrUnknownPacketType, "unexpected client request type", nil)
	}
}

// Coordinates extracts latitude/longitude from a classified
// KindNeedsResolve request's extended fields.
func (p *WeatherPipeline) Coordinates(req domain.Packet) (domain.Coordinates, error) {
	latField, ok := req.Field(domain.FieldLatitude)
	if !ok || len(latField.Value) != 4 {
		return domain.Coordinates{}, domain.NewProtocolError(domain.ErrMissingRequiredData, "invalid latitude field", nil)
	}

	lonField, ok := req.Field(domain.FieldLongitude)
	if !ok || len(lonField.Value) != 4 {
		return domain.Coordinates{}, domain.NewProtocolError(domain.ErrMissingRequiredData, "invalid longitude field", nil)
	}

	return domain.Coordinates{
		Latitude:  float64(decodeFloat32(latField.Value)),
		Longitude: float64(decodeFloat32(lonField.Value)),
	}, nil
}

// BuildLocationRequest shapes the outbound LocationRequest sent to the
// Location server under the caller-minted upstream packet id, embedding
// the client's address as the source field.
func (p *WeatherPipeline) BuildLocationRequest(upstreamID uint16, coords domain.Coordinates, clientAddr string, now uint64) domain.Packet {
	return domain.Packet{
		Header: domain.Header{
			Version:  domain.ProtocolVersion,
			PacketID: upstreamID,
			Type:     domain.LocationRequest,
			ExFlag:   true,
			Timestamp: now,
		},
		Extended: []domain.ExtendedField{
			{Type: domain.FieldLatitude, Value: encodeFloat32(float32(coords.Latitude))},
			{Type: domain.FieldLongitude, Value: encodeFloat32(float32(coords.Longitude))},
			{Type: domain.FieldSource, Value: []byte(clientAddr)},
		},
	}
}

// BuildQueryRequest shapes the outbound QueryRequest sent to the Query
// server, echoing the client's requested flags and day.
func (p *WeatherPipeline) BuildQueryRequest(upstreamID uint16, areaCode uint32, clientReq domain.Header, now uint64) domain.Packet {
	return domain.Packet{
		Header: domain.Header{
			Version:          domain.ProtocolVersion,
			PacketID:         upstreamID,
			Type:             domain.QueryRequest,
			WeatherFlag:      clientReq.WeatherFlag,
			TemperatureFlag:  clientReq.TemperatureFlag,
			PopFlag:          clientReq.PopFlag,
			AlertFlag:        clientReq.AlertFlag,
			DisasterFlag:     clientReq.DisasterFlag,
			Day:              clientReq.Day,
			AreaCode:         areaCode,
			Timestamp:        now,
		},
	}
}

// BuildClientResponse restores the client's original packet id onto the
// Query server's response, completing the ResponseReady -> Sent
// transition.
func (p *WeatherPipeline) BuildClientResponse(clientPacketID uint16, queryResp domain.Packet) domain.Packet {
	resp := queryResp
	resp.Header.PacketID = clientPacketID

	return resp
}

func encodeFloat32(v float32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))

	return buf[:]
}

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}
