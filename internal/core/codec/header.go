package codec

import (
	"encoding/binary"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// Bit layout of the first 32 header bits, MSB-first:
//
//	word0 (bits 0-15):  version(4) | packet_id(12)
//	word1 (bits 16-31): type(3) | weather(1) | temperature(1) | pop(1) |
//	                    alert(1) | disaster(1) | ex_flag(1) | reserved(2) |
//	                    day(3) | reserved(2)
const (
	word1TypeShift        = 13
	word1WeatherBit       = 1 << 12
	word1TemperatureBit   = 1 << 11
	word1PopBit           = 1 << 10
	word1AlertBit         = 1 << 9
	word1DisasterBit      = 1 << 8
	word1ExFlagBit        = 1 << 7
	word1ReservedHighMask = 0x0060 // bits 25-26
	word1DayShift         = 2
	word1DayMask          = 0x07
	word1ReservedLowMask  = 0x0003 // bits 30-31
)

// EncodeHeader packs a domain.Header into its 16-byte wire form, computing
// and embedding the 12-bit checksum.
func EncodeHeader(h domain.Header) ([HeaderSize]byte, error) {
	if h.PacketID > 0x0FFF {
		return [HeaderSize]byte{}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "packet_id exceeds 12 bits", nil)
	}

	if h.AreaCode > domain.MaxAreaCode {
		return [HeaderSize]byte{}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "area_code exceeds 20 bits", nil)
	}

	if h.Day > domain.MaxDay {
		return [HeaderSize]byte{}, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "day out of range", nil)
	}

	if !h.Type.IsKnown() {
		return [HeaderSize]byte{}, domain.NewProtocolError(domain.ErrUnknownPacketType, "unrecognized packet type", nil)
	}

	var buf [HeaderSize]byte

	word0 := uint16(h.Version&0x0F)<<12 | (h.PacketID & 0x0FFF)
	binary.BigEndian.PutUint16(buf[0:2], word0)

	word1 := uint16(h.Type&0x07) << word1TypeShift

	if h.WeatherFlag {
		word1 |= word1WeatherBit
	}

	if h.TemperatureFlag {
		word1 |= word1TemperatureBit
	}

	if h.PopFlag {
		word1 |= word1PopBit
	}

	if h.AlertFlag {
		word1 |= word1AlertBit
	}

	if h.DisasterFlag {
		word1 |= word1DisasterBit
	}

	if h.ExFlag {
		word1 |= word1ExFlagBit
	}

	word1 |= uint16(h.Day&word1DayMask) << word1DayShift

	binary.BigEndian.PutUint16(buf[2:4], word1)
	binary.BigEndian.PutUint64(buf[4:12], h.Timestamp)

	// area_code(20) | checksum(12) packed into the final 32 bits, checksum
	// left zero for the computation pass.
	binary.BigEndian.PutUint32(buf[12:16], (h.AreaCode&domain.MaxAreaCode)<<12)

	checksum := computeChecksum(buf)
	binary.BigEndian.PutUint32(buf[12:16], (h.AreaCode&domain.MaxAreaCode)<<12|uint32(checksum))

	return buf, nil
}

// DecodeHeader unpacks a 16-byte wire header into a domain.Header and
// verifies its checksum, reserved bits, version, and range invariants. On
// error it still returns whatever header fields (notably PacketID) were
// structurally readable, so a caller can address an ErrorResponse back to
// the sender.
func DecodeHeader(buf [HeaderSize]byte) (domain.Header, error) {
	word0 := binary.BigEndian.Uint16(buf[0:2])
	word1 := binary.BigEndian.Uint16(buf[2:4])
	timestamp := binary.BigEndian.Uint64(buf[4:12])
	tail := binary.BigEndian.Uint32(buf[12:16])

	h := domain.Header{
		Version:         uint8(word0 >> 12),
		PacketID:        word0 & 0x0FFF,
		Type:            domain.PacketType((word1 >> word1TypeShift) & 0x07),
		WeatherFlag:     word1&word1WeatherBit != 0,
		TemperatureFlag: word1&word1TemperatureBit != 0,
		PopFlag:         word1&word1PopBit != 0,
		AlertFlag:       word1&word1AlertBit != 0,
		DisasterFlag:    word1&word1DisasterBit != 0,
		ExFlag:          word1&word1ExFlagBit != 0,
		Day:             uint8((word1 >> word1DayShift) & word1DayMask),
		Timestamp:       timestamp,
		AreaCode:        tail >> 12,
		Checksum:        uint16(tail & 0x0FFF),
	}

	if !verifyChecksum(buf) {
		return h, domain.NewProtocolError(domain.ErrChecksumError, "header checksum verification failed", nil)
	}

	if word1&word1ReservedHighMask != 0 || word1&word1ReservedLowMask != 0 {
		return h, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "reserved header bits set", nil)
	}

	if !h.Type.IsKnown() {
		return h, domain.NewProtocolError(domain.ErrUnknownPacketType, "unrecognized packet type", nil)
	}

	if h.Day > domain.MaxDay {
		return h, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "day out of range", nil)
	}

	if h.Version != domain.ProtocolVersion {
		return h, domain.NewProtocolError(domain.ErrUnsupportedVersion, "unsupported protocol version", nil)
	}

	return h, nil
}
