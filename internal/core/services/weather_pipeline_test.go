package services

import (
	"testing"

	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

func TestClassifyCoordinateRequestNeedsResolve(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := locationRequest(35.6895, 139.6917)

	kind, err := p.Classify(req)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != KindNeedsResolve {
		t.Fatalf("expected KindNeedsResolve, got %v", kind)
	}
}

func TestClassifyCoordinateRequestRejectsMissingExFlag(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, Type: domain.LocationRequest}}

	kind, err := p.Classify(req)
	if err == nil {
		t.Fatal("expected error for missing ex_flag")
	}
	if kind != KindRejected {
		t.Fatalf("expected KindRejected, got %v", kind)
	}
}

func TestClassifyCoordinateRequestRejectsMissingLongitude(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := domain.Packet{
		Header: domain.Header{Version: domain.ProtocolVersion, Type: domain.LocationRequest, ExFlag: true},
		Extended: []domain.ExtendedField{
			{Type: domain.FieldLatitude, Value: encodeFloat32(35)},
		},
	}

	if _, err := p.Classify(req); err == nil {
		t.Fatal("expected error for missing longitude field")
	}
}

func TestClassifyAreaRequestHasArea(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, Type: domain.QueryRequest, AreaCode: 130010}}

	kind, err := p.Classify(req)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != KindHasArea {
		t.Fatalf("expected KindHasArea, got %v", kind)
	}
}

func TestClassifyAreaRequestRejectsMissingAreaCode(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, Type: domain.QueryRequest}}

	kind, err := p.Classify(req)
	if err == nil {
		t.Fatal("expected error for missing area_code")
	}
	if kind != KindRejected {
		t.Fatalf("expected KindRejected, got %v", kind)
	}
}

func TestClassifyRejectsUnexpectedType(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, Type: domain.ReportRequest}}

	kind, err := p.Classify(req)
	if err == nil {
		t.Fatal("expected error for unexpected client request type")
	}
	if kind != KindRejected {
		t.Fatalf("expected KindRejected, got %v", kind)
	}
}

func TestCoordinatesExtractsLatLon(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := locationRequest(35.6895, 139.6917)

	coords, err := p.Coordinates(req)
	if err != nil {
		t.Fatalf("Coordinates: %v", err)
	}

	if coords.Latitude < 35.68 || coords.Latitude > 35.70 {
		t.Fatalf("unexpected latitude: %v", coords.Latitude)
	}
	if coords.Longitude < 139.68 || coords.Longitude > 139.70 {
		t.Fatalf("unexpected longitude: %v", coords.Longitude)
	}
}

func TestCoordinatesRejectsMalformedLatitudeField(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := domain.Packet{
		Header: domain.Header{Version: domain.ProtocolVersion, Type: domain.LocationRequest, ExFlag: true},
		Extended: []domain.ExtendedField{
			{Type: domain.FieldLatitude, Value: []byte{1, 2}},
			{Type: domain.FieldLongitude, Value: encodeFloat32(139)},
		},
	}

	if _, err := p.Coordinates(req); err == nil {
		t.Fatal("expected error for malformed latitude field")
	}
}

func TestBuildLocationRequestEmbedsClientAddrAndCoordinates(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	req := p.BuildLocationRequest(0x55, domain.Coordinates{Latitude: 35.6895, Longitude: 139.6917}, "203.0.113.5:4000", 1700000000)

	if req.Header.Type != domain.LocationRequest {
		t.Fatalf("expected LocationRequest, got %v", req.Header.Type)
	}
	if req.Header.PacketID != 0x55 {
		t.Fatalf("expected upstream packet_id 0x55, got %#x", req.Header.PacketID)
	}
	if !req.Header.ExFlag {
		t.Fatal("expected ex_flag set")
	}

	f, ok := req.Field(domain.FieldSource)
	if !ok || string(f.Value) != "203.0.113.5:4000" {
		t.Fatalf("expected source field to carry client addr, got %+v", f)
	}
}

func TestBuildQueryRequestEchoesClientFlags(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	clientReq := domain.Header{
		WeatherFlag:     true,
		TemperatureFlag: true,
		AlertFlag:       true,
		Day:             2,
	}

	req := p.BuildQueryRequest(0x66, 130010, clientReq, 1700000000)

	if req.Header.Type != domain.QueryRequest {
		t.Fatalf("expected QueryRequest, got %v", req.Header.Type)
	}
	if req.Header.AreaCode != 130010 {
		t.Fatalf("expected area_code 130010, got %d", req.Header.AreaCode)
	}
	if !req.Header.WeatherFlag || !req.Header.TemperatureFlag || !req.Header.AlertFlag {
		t.Fatal("expected client flags to be echoed onto the upstream query")
	}
	if req.Header.PopFlag || req.Header.DisasterFlag {
		t.Fatal("expected unset client flags to stay unset")
	}
	if req.Header.Day != 2 {
		t.Fatalf("expected day 2 to be echoed, got %d", req.Header.Day)
	}
}

func TestBuildClientResponseRestoresOriginalPacketID(t *testing.T) {
	p := NewWeatherPipeline(zap.NewNop())

	queryResp := domain.Packet{Header: domain.Header{Version: domain.ProtocolVersion, PacketID: 0x66, Type: domain.QueryResponse, AreaCode: 130010}}

	resp := p.BuildClientResponse(0x123, queryResp)

	if resp.Header.PacketID != 0x123 {
		t.Fatalf("expected client packet_id 0x123 restored, got %#x", resp.Header.PacketID)
	}
	if resp.Header.AreaCode != 130010 {
		t.Fatalf("expected body fields preserved, area_code got %d", resp.Header.AreaCode)
	}
}
