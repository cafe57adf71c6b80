package services

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
)

// QueryService implements the Query server's single operation: read a
// CachedArea and shape a QueryResponse, truncating the landmarks list to
// fit one extended-field record.
type QueryService struct {
	store  ports.AreaStore
	logger *zap.Logger
}

// NewQueryService builds a QueryService backed by store.
func NewQueryService(store ports.AreaStore, logger *zap.Logger) *QueryService {
	return &QueryService{store: store, logger: logger}
}

// Build reads the cached record for req's area_code and assembles a
// QueryResponse packet carrying the body fields and extended data the
// request's flags asked for.
func (s *QueryService) Build(ctx context.Context, req domain.Packet) (domain.Packet, error) {
	if req.Header.AreaCode == 0 {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrMissingRequiredData, "query request missing area_code", nil)
	}

	area, err := s.store.Get(ctx, req.Header.AreaCode)
	if err != nil {
		return domain.Packet{}, err
	}

	if area == nil {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrMissingRequiredData, "no cached data for area_code", domain.ErrAreaNotFound)
	}

	resp := domain.Packet{
		Header: domain.Header{
			Version:         domain.ProtocolVersion,
			PacketID:        req.Header.PacketID,
			Type:            domain.QueryResponse,
			WeatherFlag:     req.Header.WeatherFlag,
			TemperatureFlag: req.Header.TemperatureFlag,
			PopFlag:         req.Header.PopFlag,
			AlertFlag:       req.Header.AlertFlag && len(area.Warnings) > 0,
			DisasterFlag:    req.Header.DisasterFlag && len(area.Disaster) > 0,
			Day:             req.Header.Day,
			AreaCode:        area.AreaCode,
			Timestamp:       area.LastUpdatedTS,
		},
		Body: domain.Body{},
	}

	if req.Header.WeatherFlag {
		resp.Body.WeatherCode = area.WeatherCode
	}

	if req.Header.TemperatureFlag {
		resp.Body.TemperatureWire = domain.EncodeTemperature(area.Temperature)
	}

	if req.Header.PopFlag {
		resp.Body.PrecipitationProb = area.PrecipitationProb
	}

	var fields []domain.ExtendedField

	if resp.Header.AlertFlag {
		if v, err := json.Marshal(area.Warnings); err == nil {
			fields = append(fields, domain.ExtendedField{Type: domain.FieldAlert, Value: v})
		}
	}

	if resp.Header.DisasterFlag {
		if v, err := json.Marshal(area.Disaster); err == nil {
			fields = append(fields, domain.ExtendedField{Type: domain.FieldDisaster, Value: v})
		}
	}

	if len(area.Landmarks) > 0 {
		if v, ok := truncatedLandmarks(area.Landmarks); ok {
			fields = append(fields, domain.ExtendedField{Type: domain.FieldLandmarks, Value: v})
		}
	}

	if len(fields) > 0 {
		resp.Header.ExFlag = true
		resp.Extended = fields
	}

	return resp, nil
}

// truncatedLandmarks JSON-encodes the longest prefix of landmarks whose
// encoding fits within MaxFieldValueSize, truncating to fit one
// extended-field record. It returns ok=false if even the empty array
// cannot be produced (never happens in practice).
func truncatedLandmarks(landmarks []string) ([]byte, bool) {
	fits := func(k int) bool {
		v, err := json.Marshal(landmarks[:k])
		return err == nil && len(v) <= domain.MaxFieldValueSize
	}

	n := sort.Search(len(landmarks)+1, func(k int) bool {
		return !fits(k)
	})

	// sort.Search returns the first k for which fits(k) is false; the
	// largest fitting prefix is therefore n-1 unless fits(0) already
	// fails (shouldn't happen: "[]" is 2 bytes).
	if n == 0 {
		return nil, false
	}

	v, err := json.Marshal(landmarks[:n-1])
	if err != nil {
		return nil, false
	}

	return v, true
}
