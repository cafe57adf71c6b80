package domain

// PacketType identifies the WIP packet variant carried in header bits 16-18.
type PacketType uint8

const (
	// LocationRequest carries latitude/longitude for area resolution.
	LocationRequest PacketType = 0

	// LocationResponse carries a resolved area_code.
	LocationResponse PacketType = 1

	// QueryRequest asks for cached weather for an area_code.
	QueryRequest PacketType = 2

	// QueryResponse carries weather_code/temperature/pop and extended data.
	QueryResponse PacketType = 3

	// ReportRequest carries a sensor/third-party weather report.
	ReportRequest PacketType = 4

	// ReportResponse acknowledges a ReportRequest.
	ReportResponse PacketType = 5

	// ErrorResponse carries a one-byte error code in the body.
	ErrorResponse PacketType = 7
)

// IsKnown reports whether t is one of the packet types WIP recognizes.
func (t PacketType) IsKnown() bool {
	switch t {
	case LocationRequest, LocationResponse, QueryRequest, QueryResponse,
		ReportRequest, ReportResponse, ErrorResponse:
		return true
	default:
		return false
	}
}

// ProtocolVersion is the only version this implementation accepts.
const ProtocolVersion uint8 = 1

// MaxDatagramSize is the largest UDP payload the core accepts.
const MaxDatagramSize = 2048

// HeaderSize is the fixed size, in bytes, of a WIP packet header.
const HeaderSize = 16

// Header is the fixed 16-byte WIP packet header. Bit-packed fields are
// represented here as already-unpacked Go values; the codec package is
// responsible for packing/unpacking the wire bit layout.
type Header struct {
	// Version is the protocol version; must equal ProtocolVersion.
	Version uint8

	// PacketID is the sender-chosen 12-bit correlation token.
	PacketID uint16

	// Type identifies the packet variant.
	Type PacketType

	// WeatherFlag requests/confirms the weather_code body field.
	WeatherFlag bool

	// TemperatureFlag requests/confirms the temperature body field.
	TemperatureFlag bool

	// PopFlag requests/confirms the precipitation probability body field.
	PopFlag bool

	// AlertFlag indicates warning strings are present.
	AlertFlag bool

	// DisasterFlag indicates disaster strings are present.
	DisasterFlag bool

	// ExFlag indicates an extended-field block follows the body.
	ExFlag bool

	// Day is the forecast day offset, 0..6.
	Day uint8

	// Timestamp is seconds since the Unix epoch, per the creator's clock.
	Timestamp uint64

	// AreaCode is the 20-bit area identifier (0 if unknown/pre-resolution).
	AreaCode uint32

	// Checksum is the 12-bit header checksum.
	Checksum uint16
}

// Body holds the four response body bytes for Query/Weather/Report
// responses: weather_code (16-bit), temperature (wire-encoded 8-bit),
// and precipitation probability (8-bit).
type Body struct {
	WeatherCode       uint16
	TemperatureWire   uint8
	PrecipitationProb uint8
}

// Temperature decodes the wire-encoded temperature byte into a signed
// Celsius value: wire_byte = signed_celsius + 100.
func (b Body) Temperature() int {
	return int(b.TemperatureWire) - 100
}

// EncodeTemperature computes the wire byte for a signed Celsius value.
// Callers must ensure celsius is within [-100, 100].
func EncodeTemperature(celsius int) uint8 {
	return uint8(celsius + 100)
}

// Packet is a fully decoded WIP datagram: header, optional response body,
// and optional extended-field block.
type Packet struct {
	Header   Header
	Body     Body
	Extended []ExtendedField
}

// Field returns the first extended field of the given type, if present.
func (p Packet) Field(t FieldType) (ExtendedField, bool) {
	for _, f := range p.Extended {
		if f.Type == t {
			return f, true
		}
	}

	return ExtendedField{}, false
}
