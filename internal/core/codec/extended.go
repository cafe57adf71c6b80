package codec

import (
	"encoding/binary"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// recordHeaderSize is the size, in bytes, of an extended-field record's
// length+type prefix (10-bit length, 6-bit type, packed into 2 bytes).
const recordHeaderSize = 2

// EncodeExtended serializes a slice of extended fields into a TLV stream:
// each record is (length:10, type:6) packed big-endian into two bytes,
// followed by the value bytes.
func EncodeExtended(fields []domain.ExtendedField) ([]byte, error) {
	var out []byte

	for _, f := range fields {
		if len(f.Value) > domain.MaxFieldValueSize {
			return nil, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "extended field value exceeds 1023 bytes", nil)
		}

		prefix := uint16(len(f.Value)&0x03FF)<<6 | uint16(f.Type&0x3F)

		var hdr [recordHeaderSize]byte
		binary.BigEndian.PutUint16(hdr[:], prefix)

		out = append(out, hdr[:]...)
		out = append(out, f.Value...)
	}

	return out, nil
}

// DecodeExtended parses the extended-field TLV stream until the buffer is
// exhausted. Unknown field ids are skipped and dropped, for
// forward-compatibility with future field types. At most one record of
// each type id is kept; later duplicates of an already-seen type are
// skipped rather than rejected, matching the codec's tolerant read path.
func DecodeExtended(buf []byte) ([]domain.ExtendedField, error) {
	var fields []domain.ExtendedField

	seen := make(map[domain.FieldType]bool)

	for len(buf) >= recordHeaderSize {
		prefix := binary.BigEndian.Uint16(buf[0:recordHeaderSize])
		length := int(prefix >> 6)
		fieldType := domain.FieldType(prefix & 0x3F)

		buf = buf[recordHeaderSize:]

		if length > len(buf) {
			return nil, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "extended field length exceeds remaining packet bytes", nil)
		}

		value := buf[:length]
		buf = buf[length:]

		if !domain.KnownFieldType(fieldType) {
			continue
		}

		if seen[fieldType] {
			continue
		}

		seen[fieldType] = true

		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)

		fields = append(fields, domain.ExtendedField{Type: fieldType, Value: valueCopy})
	}

	if len(buf) != 0 {
		return nil, domain.NewProtocolError(domain.ErrInvalidPacketFormat, "trailing bytes after last extended field record", nil)
	}

	return fields, nil
}
