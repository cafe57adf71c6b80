// Package auth implements the WIP keyed-MAC authentication scheme: an
// HMAC-SHA-256 digest over the exact ASCII string
// "<packet_id>:<timestamp>:<passphrase>", carried as extended field id=6
// (auth_hash).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// MACSize is the length, in bytes, of the auth_hash digest.
const MACSize = sha256.Size

// DefaultMaxSkew is the default acceptable timestamp skew.
const DefaultMaxSkew = 300 * time.Second

// Compute returns the 32-byte keyed MAC binding packetID and timestamp
// under passphrase:
// HMAC-SHA-256(key=passphrase, msg="<packet_id>:<timestamp>:<passphrase>").
func Compute(packetID uint16, timestamp uint64, passphrase string) [MACSize]byte {
	msg := message(packetID, timestamp, passphrase)

	mac := hmac.New(sha256.New, []byte(passphrase))
	mac.Write([]byte(msg))

	var out [MACSize]byte
	copy(out[:], mac.Sum(nil))

	return out
}

// Verify recomputes the MAC for (packetID, timestamp, passphrase) and
// compares it against digest in constant time. It also rejects timestamps
// more than maxSkew away from now.
func Verify(packetID uint16, timestamp uint64, passphrase string, digest []byte, now time.Time, maxSkew time.Duration) error {
	if len(digest) != MACSize {
		return domain.NewProtocolError(domain.ErrAuthFailure, "auth_hash has wrong length", nil)
	}

	skew := now.Unix() - int64(timestamp)
	if skew < 0 {
		skew = -skew
	}

	if time.Duration(skew)*time.Second > maxSkew {
		return domain.NewProtocolError(domain.ErrAuthFailure, "timestamp outside accepted skew window", nil)
	}

	expected := Compute(packetID, timestamp, passphrase)

	if !hmac.Equal(expected[:], digest) {
		return domain.NewProtocolError(domain.ErrAuthFailure, "auth_hash verification failed", nil)
	}

	return nil
}

func message(packetID uint16, timestamp uint64, passphrase string) string {
	return fmt.Sprintf("%d:%d:%s", packetID, timestamp, passphrase)
}
