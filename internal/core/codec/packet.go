package codec

import (
	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// bodySize is the fixed size, in bytes, of the response body present on
// LocationResponse, QueryResponse, and ReportResponse packets.
const bodySize = 4

// hasBody reports whether packets of the given type carry the 4-byte
// response body. LocationResponse carries it with the weather fields left
// zero (area resolution has no weather data); ReportResponse repurposes
// the weather_code field's low byte as its acknowledgement result code
// (0 = success, nonzero = an error code).
func hasBody(t domain.PacketType) bool {
	switch t {
	case domain.LocationResponse, domain.QueryResponse, domain.ReportResponse:
		return true
	default:
		return false
	}
}

// Encode serializes a full WIP packet: header, optional body, optional
// extended-field block. It recomputes the header checksum over the final
// header bytes.
func Encode(p domain.Packet) ([]byte, error) {
	header, err := EncodeHeader(p.Header)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderSize+bodySize+64)
	out = append(out, header[:]...)

	if hasBody(p.Header.Type) {
		out = append(out, byte(p.Body.WeatherCode>>8), byte(p.Body.WeatherCode),
			p.Body.TemperatureWire, p.Body.PrecipitationProb)
	}

	if p.Header.ExFlag {
		extBytes, err := EncodeExtended(p.Extended)
		if err != nil {
			return nil, err
		}

		out = append(out, extBytes...)
	}

	if len(out) > domain.MaxDatagramSize {
		return nil, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "encoded packet exceeds max datagram size", nil)
	}

	return out, nil
}

// Decode parses a raw UDP datagram into a WIP packet. It rejects datagrams
// larger than MaxDatagramSize before attempting to parse them.
func Decode(buf []byte) (domain.Packet, error) {
	if len(buf) > domain.MaxDatagramSize {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "datagram exceeds max accepted size", nil)
	}

	if len(buf) < HeaderSize {
		return domain.Packet{}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "datagram shorter than header", nil)
	}

	var headerBytes [HeaderSize]byte
	copy(headerBytes[:], buf[:HeaderSize])

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return domain.Packet{Header: header}, err
	}

	rest := buf[HeaderSize:]
	var body domain.Body

	if hasBody(header.Type) {
		if len(rest) < bodySize {
			return domain.Packet{Header: header}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "datagram shorter than expected body", nil)
		}

		body = domain.Body{
			WeatherCode:       uint16(rest[0])<<8 | uint16(rest[1]),
			TemperatureWire:   rest[2],
			PrecipitationProb: rest[3],
		}

		rest = rest[bodySize:]
	}

	var fields []domain.ExtendedField

	if header.ExFlag {
		if len(rest) == 0 {
			return domain.Packet{Header: header, Body: body}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "ex_flag set with no extended-field bytes", nil)
		}

		fields, err = DecodeExtended(rest)
		if err != nil {
			return domain.Packet{Header: header, Body: body}, err
		}
	} else if len(rest) != 0 {
		return domain.Packet{Header: header, Body: body}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "trailing bytes with ex_flag unset", nil)
	}

	return domain.Packet{Header: header, Body: body, Extended: fields}, nil
}
