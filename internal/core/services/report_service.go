package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
)

// reportDedupeWindow bounds how long an identical report from the same
// reporter is suppressed as a duplicate before it is merged again.
const reportDedupeWindow = 10 * time.Second

// ReportResultCode is the value carried in a ReportResponse's repurposed
// weather_code body byte.
type ReportResultCode uint16

const (
	// ReportOK indicates the report was validated and merged.
	ReportOK ReportResultCode = 0

	// ReportRejected indicates the report failed validation and was
	// not merged.
	ReportRejected ReportResultCode = uint16(domain.ErrMissingRequiredData)
)

// ReportService implements the Report server's single operation:
// validate an incoming report against the code catalog and numeric
// ranges, then merge it into the cached area record.
type ReportService struct {
	store   ports.AreaStore
	catalog ports.CodeCatalog
	logger  *zap.Logger
	dedupe  *gocache.Cache
}

// NewReportService builds a ReportService backed by store and catalog.
func NewReportService(store ports.AreaStore, catalog ports.CodeCatalog, logger *zap.Logger) *ReportService {
	return &ReportService{
		store:   store,
		catalog: catalog,
		logger:  logger,
		dedupe:  gocache.New(reportDedupeWindow, reportDedupeWindow),
	}
}

// dedupeKey fingerprints a report by reporter identity and body contents,
// so the same reading resent by the same reporter within the dedupe
// window is recognized as a repeat rather than a new observation.
func dedupeKey(reporter domain.ReporterIdentity, req domain.Packet) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d",
		reporter.Key(), req.Header.AreaCode, req.Body.WeatherCode, req.Body.TemperatureWire, req.Body.PrecipitationProb)
}

// Apply validates req's body/extended data and merges it into the
// stored CachedArea for req's area_code, returning the ReportResponse
// packet to send back. A report identical to one already applied by the
// same reporter within the dedupe window is acknowledged but not
// re-merged.
func (s *ReportService) Apply(ctx context.Context, req domain.Packet, reporter domain.ReporterIdentity) (domain.Packet, error) {
	if req.Header.AreaCode == 0 {
		return s.reject(req, "report request missing area_code")
	}

	temperature := req.Body.Temperature()
	if temperature < -100 || temperature > 100 {
		return s.reject(req, "temperature out of range")
	}

	if req.Body.PrecipitationProb > 100 {
		return s.reject(req, "precipitation probability out of range")
	}

	if !s.catalog.Allowed(req.Body.WeatherCode) {
		return s.reject(req, "weather_code not recognized")
	}

	key := dedupeKey(reporter, req)
	if _, duplicate := s.dedupe.Get(key); duplicate {
		s.logger.Debug("duplicate report dropped",
			zap.Uint32("area_code", req.Header.AreaCode),
			zap.String("reporter", reporter.Key()))

		return domain.Packet{
			Header: domain.Header{
				Version:   domain.ProtocolVersion,
				PacketID:  req.Header.PacketID,
				Type:      domain.ReportResponse,
				Timestamp: req.Header.Timestamp,
			},
			Body: domain.Body{WeatherCode: uint16(ReportOK)},
		}, nil
	}

	incoming := domain.CachedArea{
		AreaCode:          req.Header.AreaCode,
		WeatherCode:       req.Body.WeatherCode,
		Temperature:       temperature,
		PrecipitationProb: req.Body.PrecipitationProb,
		LastUpdatedTS:     req.Header.Timestamp,
	}

	if f, ok := req.Field(domain.FieldAlert); ok {
		_ = json.Unmarshal(f.Value, &incoming.Warnings)
	}

	if f, ok := req.Field(domain.FieldDisaster); ok {
		_ = json.Unmarshal(f.Value, &incoming.Disaster)
	}

	if f, ok := req.Field(domain.FieldSource); ok {
		incoming.SourceOrigin = string(f.Value)
	} else {
		incoming.SourceOrigin = reporter.RemoteAddr
	}

	if f, ok := req.Field(domain.FieldLandmarks); ok {
		_ = json.Unmarshal(f.Value, &incoming.Landmarks)
	}

	current, err := s.store.Get(ctx, req.Header.AreaCode)
	if err != nil {
		return domain.Packet{}, err
	}

	if current == nil {
		current = &domain.CachedArea{AreaCode: req.Header.AreaCode}
	}

	current.Merge(incoming)

	if err := s.store.Put(ctx, req.Header.AreaCode, current); err != nil {
		return domain.Packet{}, err
	}

	s.dedupe.SetDefault(key, struct{}{})

	return domain.Packet{
		Header: domain.Header{
			Version:   domain.ProtocolVersion,
			PacketID:  req.Header.PacketID,
			Type:      domain.ReportResponse,
			Timestamp: req.Header.Timestamp,
		},
		Body: domain.Body{WeatherCode: uint16(ReportOK)},
	}, nil
}

func (s *ReportService) reject(req domain.Packet, reason string) (domain.Packet, error) {
	s.logger.Debug("report rejected", zap.Uint32("area_code", req.Header.AreaCode), zap.String("reason", reason))

	return domain.Packet{
		Header: domain.Header{
			Version:   domain.ProtocolVersion,
			PacketID:  req.Header.PacketID,
			Type:      domain.ReportResponse,
			Timestamp: req.Header.Timestamp,
		},
		Body: domain.Body{WeatherCode: uint16(ReportRejected)},
	}, domain.NewProtocolError(domain.ErrMissingRequiredData, reason, nil)
}
