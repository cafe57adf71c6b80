// Package codec implements the WIP wire format: header bit-packing, the
// 12-bit ones-complement header checksum, and the extended-field TLV
// stream. It is pure data transformation — no I/O, no concurrency.
package codec

import "github.com/sean-rowe/wip-server/internal/core/domain"

// HeaderSize is the fixed wire size of a WIP header, re-exported locally
// for use as an array bound.
const HeaderSize = domain.HeaderSize

// checksumMask keeps a sum within 12 bits.
const checksumMask = 0xFFF

// foldChecksum folds a wider accumulator down to 12 bits by repeatedly
// adding the high bits back into the low 12 bits.
func foldChecksum(sum uint32) uint16 {
	for sum > checksumMask {
		sum = (sum & checksumMask) + (sum >> 12)
	}

	return uint16(sum)
}

// computeChecksum returns the 12-bit ones-complement checksum of a 16-byte
// header with the checksum field already zeroed.
func computeChecksum(header [HeaderSize]byte) uint16 {
	var sum uint32

	for i := 0; i < len(header); i += 2 {
		sum += uint32(header[i])<<8 | uint32(header[i+1])
	}

	folded := foldChecksum(sum)

	return (^folded) & checksumMask
}

// verifyChecksum reports whether the received header (checksum field left
// as received, not zeroed) satisfies the checksum invariant: the folded
// sum over the whole header equals 0xFFF.
func verifyChecksum(header [HeaderSize]byte) bool {
	var sum uint32

	for i := 0; i < len(header); i += 2 {
		sum += uint32(header[i])<<8 | uint32(header[i+1])
	}

	return foldChecksum(sum) == checksumMask
}
