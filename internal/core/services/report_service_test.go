package services

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

var testReporterIdentity = domain.ReporterIdentity{RemoteAddr: "198.51.100.7:9000"}

type fakeCatalog struct {
	allowed map[uint16]bool
}

func (f *fakeCatalog) Allowed(code uint16) bool {
	if f.allowed == nil {
		return true
	}
	return f.allowed[code]
}

func reportRequest(areaCode uint32, weatherCode uint16, temp int, pop uint8) domain.Packet {
	return domain.Packet{
		Header: domain.Header{
			Version:   domain.ProtocolVersion,
			PacketID:  0x456,
			Type:      domain.ReportRequest,
			AreaCode:  areaCode,
			Timestamp: 1700000000,
		},
		Body: domain.Body{
			WeatherCode:       weatherCode,
			TemperatureWire:   domain.EncodeTemperature(temp),
			PrecipitationProb: pop,
		},
	}
}

func TestReportServiceMergesValidReport(t *testing.T) {
	store := newFakeAreaStore()
	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())

	req := reportRequest(130010, 100, 25, 30)
	resp, err := svc.Apply(context.Background(), req, testReporterIdentity)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if resp.Body.WeatherCode != uint16(ReportOK) {
		t.Fatalf("expected ReportOK, got %d", resp.Body.WeatherCode)
	}

	stored := store.areas[130010]
	if stored == nil {
		t.Fatal("expected report to be merged into store")
	}
	if stored.WeatherCode != 100 || stored.PrecipitationProb != 30 {
		t.Fatalf("unexpected stored area: %+v", stored)
	}
}

func TestReportServiceRejectsMissingAreaCode(t *testing.T) {
	svc := NewReportService(newFakeAreaStore(), &fakeCatalog{}, zap.NewNop())

	req := reportRequest(0, 100, 25, 30)
	resp, err := svc.Apply(context.Background(), req, testReporterIdentity)
	if err == nil {
		t.Fatal("expected error for missing area_code")
	}
	if resp.Header.Type != domain.ReportResponse {
		t.Fatalf("expected a well-formed ReportResponse even on rejection, got %v", resp.Header.Type)
	}
	if resp.Body.WeatherCode != uint16(ReportRejected) {
		t.Fatalf("expected ReportRejected result code, got %d", resp.Body.WeatherCode)
	}
}

func TestReportServiceRejectsOutOfRangeTemperature(t *testing.T) {
	svc := NewReportService(newFakeAreaStore(), &fakeCatalog{}, zap.NewNop())

	req := reportRequest(1, 100, 150, 30)
	resp, err := svc.Apply(context.Background(), req, testReporterIdentity)
	if err == nil {
		t.Fatal("expected error for out-of-range temperature")
	}
	if resp.Body.WeatherCode != uint16(ReportRejected) {
		t.Fatalf("expected ReportRejected result code, got %d", resp.Body.WeatherCode)
	}
}

func TestReportServiceRejectsOutOfRangePop(t *testing.T) {
	svc := NewReportService(newFakeAreaStore(), &fakeCatalog{}, zap.NewNop())

	req := reportRequest(1, 100, 25, 150)
	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err == nil {
		t.Fatal("expected error for precipitation probability > 100")
	}
}

func TestReportServiceRejectsUnknownWeatherCode(t *testing.T) {
	svc := NewReportService(newFakeAreaStore(), &fakeCatalog{allowed: map[uint16]bool{100: true}}, zap.NewNop())

	req := reportRequest(1, 999, 25, 30)
	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err == nil {
		t.Fatal("expected error for weather_code not in catalog")
	}
}

func TestReportServiceDoesNotEscalateRejectionToErrorResponse(t *testing.T) {
	svc := NewReportService(newFakeAreaStore(), &fakeCatalog{}, zap.NewNop())

	req := reportRequest(0, 100, 25, 30)
	resp, err := svc.Apply(context.Background(), req, testReporterIdentity)

	if err == nil {
		t.Fatal("expected a non-nil error describing the rejection")
	}
	if resp.Header.Type == domain.ErrorResponse {
		t.Fatal("rejection must produce a ReportResponse, not an ErrorResponse")
	}
}

func TestReportServicePropagatesStoreFailureAsErrorResponse(t *testing.T) {
	store := newFakeAreaStore()
	store.err = domain.NewProtocolError(domain.ErrServerError, "store unavailable", nil)

	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())
	req := reportRequest(1, 100, 25, 30)

	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err == nil {
		t.Fatal("expected store failure to propagate")
	}
}

func TestReportServiceMergesAlertAndDisasterFields(t *testing.T) {
	store := newFakeAreaStore()
	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())

	req := reportRequest(130010, 100, 25, 30)
	warnings, _ := json.Marshal([]string{"大雨注意報"})
	disaster, _ := json.Marshal([]string{"土砂災害"})
	req.Header.ExFlag = true
	req.Extended = []domain.ExtendedField{
		{Type: domain.FieldAlert, Value: warnings},
		{Type: domain.FieldDisaster, Value: disaster},
	}

	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	stored := store.areas[130010]
	if len(stored.Warnings) != 1 || stored.Warnings[0] != "大雨注意報" {
		t.Fatalf("unexpected warnings: %v", stored.Warnings)
	}
	if len(stored.Disaster) != 1 || stored.Disaster[0] != "土砂災害" {
		t.Fatalf("unexpected disaster: %v", stored.Disaster)
	}
}

func TestReportServiceMergeIntoExistingRecordPreservesSetUnion(t *testing.T) {
	store := newFakeAreaStore()
	store.areas[130010] = &domain.CachedArea{
		AreaCode: 130010,
		Warnings: []string{"強風注意報"},
	}
	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())

	req := reportRequest(130010, 200, 18, 10)
	warnings, _ := json.Marshal([]string{"大雨注意報"})
	req.Header.ExFlag = true
	req.Extended = []domain.ExtendedField{{Type: domain.FieldAlert, Value: warnings}}

	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	stored := store.areas[130010]
	if len(stored.Warnings) != 2 {
		t.Fatalf("expected union of warnings, got %v", stored.Warnings)
	}
}

func TestReportServiceDropsDuplicateReportFromSameReporter(t *testing.T) {
	store := newFakeAreaStore()
	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())

	req := reportRequest(130010, 100, 25, 30)

	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if len(store.puts) != 1 {
		t.Fatalf("expected exactly one store write after the first report, got %d", len(store.puts))
	}

	resp, err := svc.Apply(context.Background(), req, testReporterIdentity)
	if err != nil {
		t.Fatalf("duplicate Apply should still ack: %v", err)
	}
	if resp.Body.WeatherCode != uint16(ReportOK) {
		t.Fatalf("expected ReportOK ack for a duplicate report, got %d", resp.Body.WeatherCode)
	}
	if len(store.puts) != 1 {
		t.Fatalf("expected the duplicate report not to trigger a second store write, got %d writes", len(store.puts))
	}
}

func TestReportServiceDoesNotDedupeDifferentReporters(t *testing.T) {
	store := newFakeAreaStore()
	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())

	req := reportRequest(130010, 100, 25, 30)
	other := domain.ReporterIdentity{RemoteAddr: "203.0.113.9:9000"}

	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if _, err := svc.Apply(context.Background(), req, other); err != nil {
		t.Fatalf("second Apply from a different reporter: %v", err)
	}

	if len(store.puts) != 2 {
		t.Fatalf("expected a second store write for a distinct reporter, got %d", len(store.puts))
	}
}

func TestReportServiceDefaultsSourceOriginToReporterAddress(t *testing.T) {
	store := newFakeAreaStore()
	svc := NewReportService(store, &fakeCatalog{}, zap.NewNop())

	req := reportRequest(130010, 100, 25, 30)

	if _, err := svc.Apply(context.Background(), req, testReporterIdentity); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	stored := store.areas[130010]
	if stored.SourceOrigin != testReporterIdentity.RemoteAddr {
		t.Fatalf("expected source_origin to default to reporter address, got %q", stored.SourceOrigin)
	}
}
