package steps

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/adapters/primary/udp"
	"github.com/sean-rowe/wip-server/internal/adapters/secondary/codecatalog"
	"github.com/sean-rowe/wip-server/internal/adapters/secondary/geoindex"
	"github.com/sean-rowe/wip-server/internal/adapters/secondary/wipclient"
	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/services"
)

type memStore struct {
	areas map[uint32]*domain.CachedArea
}

func (s *memStore) Get(ctx context.Context, areaCode uint32) (*domain.CachedArea, error) {
	return s.areas[areaCode], nil
}

func (s *memStore) Put(ctx context.Context, areaCode uint32, area *domain.CachedArea) error {
	s.areas[areaCode] = area
	return nil
}

type wipWorld struct {
	store   *memStore
	index   *geoindex.Index
	catalog *codecatalog.Catalog

	locationServer *udp.Server
	queryServer    *udp.Server
	weatherServer  *udp.Server
	reportServer   *udp.Server

	weatherAddr  string
	locationDown bool

	client *wipclient.Client

	reportResp domain.Packet
	lastResp   domain.Packet
}

func freeUDPAddr() string {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		panic(err)
	}
	addr := conn.LocalAddr().String()
	_ = conn.Close()
	return addr
}

func (w *wipWorld) startServers() error {
	logger := zap.NewNop()

	locationHandler := &udp.LocationHandler{
		Service: services.NewLocationService(w.index, logger),
		Logger:  logger,
	}
	w.locationServer = &udp.Server{Role: domain.RoleLocation, Addr: freeUDPAddr(), Workers: 2, Handler: locationHandler.Handle, Logger: logger}
	if err := w.locationServer.Start(); err != nil {
		return err
	}

	queryHandler := &udp.QueryHandler{
		Service: services.NewQueryService(w.store, logger),
		Logger:  logger,
	}
	w.queryServer = &udp.Server{Role: domain.RoleQuery, Addr: freeUDPAddr(), Workers: 2, Handler: queryHandler.Handle, Logger: logger}
	if err := w.queryServer.Start(); err != nil {
		return err
	}

	reportHandler := &udp.ReportHandler{
		Service: services.NewReportService(w.store, w.catalog, logger),
		Logger:  logger,
	}
	w.reportServer = &udp.Server{Role: domain.RoleReport, Addr: freeUDPAddr(), Workers: 2, Handler: reportHandler.Handle, Logger: logger}
	if err := w.reportServer.Start(); err != nil {
		return err
	}

	client, err := wipclient.New(logger)
	if err != nil {
		return err
	}
	w.client = client

	locationAddr := w.locationServer.ListenAddr()
	if w.locationDown {
		locationAddr = freeUDPAddr()
	}

	weatherHandler := &udp.WeatherHandler{
		Pipeline:        services.NewWeatherPipeline(logger),
		IDGen:           codec.NewIDGenerator(),
		LocationClient:  client,
		LocationAddr:    locationAddr,
		LocationTimeout: 300 * time.Millisecond,
		QueryClient:     client,
		QueryAddr:       w.queryServer.ListenAddr(),
		QueryTimeout:    2 * time.Second,
		Logger:          logger,
	}
	w.weatherServer = &udp.Server{Role: domain.RoleWeather, Addr: freeUDPAddr(), Workers: 2, Handler: weatherHandler.Handle, Logger: logger}
	if err := w.weatherServer.Start(); err != nil {
		return err
	}
	w.weatherAddr = w.weatherServer.ListenAddr()

	return nil
}

func (w *wipWorld) theServersAreRunning() error {
	w.store = &memStore{areas: make(map[uint32]*domain.CachedArea)}
	w.index = geoindex.New(nil)
	w.catalog = codecatalog.New([]uint16{100, 200})

	return w.startServers()
}

func (w *wipWorld) areaIsMappedToTheTokyoBoundingBox(areaCode int) error {
	w.index.Reload([]geoindex.Area{
		{AreaCode: uint32(areaCode), MinLat: 35.5, MaxLat: 35.9, MinLon: 139.4, MaxLon: 139.9, Name: "Tokyo"},
	})
	return nil
}

func (w *wipWorld) areaCachedWeatherIs(areaCode, weatherCode, temperature, pop int) error {
	w.store.areas[uint32(areaCode)] = &domain.CachedArea{
		AreaCode:          uint32(areaCode),
		WeatherCode:       uint16(weatherCode),
		Temperature:       temperature,
		PrecipitationProb: uint8(pop),
	}
	return nil
}

func (w *wipWorld) areaHasNoCachedWeatherYet(areaCode int) error {
	delete(w.store.areas, uint32(areaCode))
	return nil
}

func (w *wipWorld) theLocationUpstreamIsUnreachable() error {
	w.locationDown = true
	return nil
}

func encodeFloat32(v float32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
	return buf[:]
}

func (w *wipWorld) sendCoordinateRequest(packetIDHex string, lat, lon float64, flags string) error {
	packetID, err := parsePacketID(packetIDHex)
	if err != nil {
		return err
	}

	req := domain.Packet{
		Header: domain.Header{
			Version:  domain.ProtocolVersion,
			PacketID: packetID,
			Type:     domain.LocationRequest,
			ExFlag:   true,
		},
		Extended: []domain.ExtendedField{
			{Type: domain.FieldLatitude, Value: encodeFloat32(float32(lat))},
			{Type: domain.FieldLongitude, Value: encodeFloat32(float32(lon))},
		},
	}
	applyRequestFlags(&req.Header, flags)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := w.client.Send(ctx, w.weatherAddr, req)
	if err != nil {
		return err
	}

	w.lastResp = resp
	return nil
}

func (w *wipWorld) sendAreaQuery(packetIDHex string, areaCode, day int, flags string) error {
	packetID, err := parsePacketID(packetIDHex)
	if err != nil {
		return err
	}

	req := domain.Packet{
		Header: domain.Header{
			Version:  domain.ProtocolVersion,
			PacketID: packetID,
			Type:     domain.QueryRequest,
			AreaCode: uint32(areaCode),
			Day:      uint8(day),
		},
	}
	applyRequestFlags(&req.Header, flags)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := w.client.Send(ctx, w.queryServer.ListenAddr(), req)
	if err != nil {
		return err
	}

	w.lastResp = resp
	return nil
}

func (w *wipWorld) sendReport(areaCode, weatherCode, temp, pop int, alertsJSON string) error {
	req := domain.Packet{
		Header: domain.Header{
			Version:   domain.ProtocolVersion,
			PacketID:  0x1,
			Type:      domain.ReportRequest,
			AreaCode:  uint32(areaCode),
			Timestamp: uint64(time.Now().Unix()),
			ExFlag:    true,
		},
		Body: domain.Body{
			WeatherCode:       uint16(weatherCode),
			TemperatureWire:   domain.EncodeTemperature(temp),
			PrecipitationProb: uint8(pop),
		},
		Extended: []domain.ExtendedField{
			{Type: domain.FieldAlert, Value: []byte(alertsJSON)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := w.client.Send(ctx, w.reportServer.ListenAddr(), req)
	if err != nil {
		return err
	}

	w.reportResp = resp
	return nil
}

func (w *wipWorld) theReplyHasTypeAndPacketID(typeNum int, packetIDHex string) error {
	packetID, err := parsePacketID(packetIDHex)
	if err != nil {
		return err
	}

	if int(w.lastResp.Header.Type) != typeNum {
		return fmt.Errorf("expected type=%d, got %v", typeNum, w.lastResp.Header.Type)
	}
	if w.lastResp.Header.PacketID != packetID {
		return fmt.Errorf("expected packet_id %#x, got %#x", packetID, w.lastResp.Header.PacketID)
	}

	return nil
}

func (w *wipWorld) theReplyHasTypeAndCode(typeNum, code int) error {
	if int(w.lastResp.Header.Type) != typeNum {
		return fmt.Errorf("expected type=%d, got %v", typeNum, w.lastResp.Header.Type)
	}
	if int(w.lastResp.Body.WeatherCode) != code {
		return fmt.Errorf("expected code=%d, got %d", code, w.lastResp.Body.WeatherCode)
	}

	return nil
}

func (w *wipWorld) theRepliesPacketIDIs(packetIDHex string) error {
	packetID, err := parsePacketID(packetIDHex)
	if err != nil {
		return err
	}
	if w.lastResp.Header.PacketID != packetID {
		return fmt.Errorf("expected packet_id %#x, got %#x", packetID, w.lastResp.Header.PacketID)
	}
	return nil
}

func (w *wipWorld) theRepliesAreaCodeIs(areaCode int) error {
	if w.lastResp.Header.AreaCode != uint32(areaCode) {
		return fmt.Errorf("expected area_code %d, got %d", areaCode, w.lastResp.Header.AreaCode)
	}
	return nil
}

func (w *wipWorld) theRepliesBodyBytesAre(hexBytes string) error {
	buf, err := codec.Encode(w.lastResp)
	if err != nil {
		return err
	}

	body := buf[codec.HeaderSize : codec.HeaderSize+4]
	want := strings.Fields(hexBytes)

	for i, h := range want {
		n, err := strconv.ParseUint(h, 16, 8)
		if err != nil {
			return err
		}
		if body[i] != byte(n) {
			return fmt.Errorf("body byte %d: got 0x%02X want %s", i, body[i], h)
		}
	}

	return nil
}

func (w *wipWorld) theReportReplyHasTypeAndAZeroResultCode(typeNum int) error {
	if int(w.reportResp.Header.Type) != typeNum {
		return fmt.Errorf("expected report reply type=%d, got %v", typeNum, w.reportResp.Header.Type)
	}
	if w.reportResp.Body.WeatherCode != 0 {
		return fmt.Errorf("expected a zero result code, got %d", w.reportResp.Body.WeatherCode)
	}
	return nil
}

func (w *wipWorld) theRepliesAlertFieldContains(substring string) error {
	f, ok := w.lastResp.Field(domain.FieldAlert)
	if !ok {
		return fmt.Errorf("reply has no alert field")
	}
	if !strings.Contains(string(f.Value), substring) {
		return fmt.Errorf("alert field %q does not contain %q", f.Value, substring)
	}
	return nil
}

func applyRequestFlags(h *domain.Header, flags string) {
	for _, f := range strings.Split(flags, "+") {
		switch strings.TrimSpace(f) {
		case "weather":
			h.WeatherFlag = true
		case "temperature":
			h.TemperatureFlag = true
		case "pop":
			h.PopFlag = true
		case "alert":
			h.AlertFlag = true
		case "disaster":
			h.DisasterFlag = true
		}
	}
}

func parsePacketID(hex string) (uint16, error) {
	hex = strings.TrimPrefix(hex, "0x")
	n, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid packet_id %q: %w", hex, err)
	}
	return uint16(n), nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	w := &wipWorld{}

	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		*w = wipWorld{}
		return goCtx, nil
	})

	ctx.After(func(goCtx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if w.locationServer != nil {
			w.locationServer.Stop()
		}
		if w.queryServer != nil {
			w.queryServer.Stop()
		}
		if w.weatherServer != nil {
			w.weatherServer.Stop()
		}
		if w.reportServer != nil {
			w.reportServer.Stop()
		}
		if w.client != nil {
			_ = w.client.Close()
		}
		return goCtx, err
	})

	ctx.Step(`^the Weather, Location, and Query servers are running$`, w.theServersAreRunning)
	ctx.Step(`^area (\d+) is mapped to the Tokyo bounding box$`, w.areaIsMappedToTheTokyoBoundingBox)
	ctx.Step(`^area (\d+)'s cached weather is weather_code=(\d+), temperature=(\d+), pop=(\d+)$`, w.areaCachedWeatherIs)
	ctx.Step(`^area (\d+) has no cached weather yet$`, w.areaHasNoCachedWeatherYet)
	ctx.Step(`^the Weather server's Location upstream address is unreachable$`, w.theLocationUpstreamIsUnreachable)
	ctx.Step(`^a client sends a type=0 request with packet_id (0x[0-9A-Fa-f]+), lat=([\-\d.]+), lon=([\-\d.]+), flags ([a-z+]+)$`, w.sendCoordinateRequest)
	ctx.Step(`^a client sends a type=2 request with packet_id (0x[0-9A-Fa-f]+), area_code=(\d+), day=(\d+), flags ([a-z+]+)$`, w.sendAreaQuery)
	ctx.Step(`^a reporter sends a type=4 request for area_code=(\d+) with weather=(\d+), temp=(\d+), pop=(\d+), alerts=(\[.*\])$`, w.sendReport)
	ctx.Step(`^the reply has type=(\d+) and packet_id (0x[0-9A-Fa-f]+)$`, w.theReplyHasTypeAndPacketID)
	ctx.Step(`^the reply has type=(\d+) and code=(\d+)$`, w.theReplyHasTypeAndCode)
	ctx.Step(`^the reply's packet_id is (0x[0-9A-Fa-f]+)$`, w.theRepliesPacketIDIs)
	ctx.Step(`^the reply's area_code is (\d+)$`, w.theRepliesAreaCodeIs)
	ctx.Step(`^the reply's body bytes are "([0-9A-Fa-f ]+)"$`, w.theRepliesBodyBytesAre)
	ctx.Step(`^the report reply has type=(\d+) and a zero result code$`, w.theReportReplyHasTypeAndAZeroResultCode)
	ctx.Step(`^the reply's alert field contains "(.*)"$`, w.theRepliesAlertFieldContains)
}
