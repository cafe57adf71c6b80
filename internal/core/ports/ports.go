// Package ports defines the interfaces that connect the core domain with
// external systems. These interfaces follow the Dependency Inversion
// Principle, allowing the domain layer to remain independent of
// infrastructure concerns while defining contracts for external services.
package ports

import (
	"context"
	"time"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// AreaStore is the shared cache/store contract: a key/value store keyed
// by 20-bit area code holding current weather state. Implementations
// must provide read-your-write consistency within a single caller's
// Report->Query ordering and must never return a partial record (get
// returns a complete record or nothing).
type AreaStore interface {
	// Get retrieves the cached area record for areaCode. It returns
	// (nil, nil) when no record exists; a non-nil error indicates a
	// store failure, not a missing key.
	Get(ctx context.Context, areaCode uint32) (*domain.CachedArea, error)

	// Put stores (or merges into) the record for areaCode.
	Put(ctx context.Context, areaCode uint32, area *domain.CachedArea) error
}

// AreaResolver maps geographic coordinates to a 20-bit area code. The
// spatial table is treated as an external collaborator; this interface is
// the contract the Location server consumes from it.
type AreaResolver interface {
	// Resolve returns the area code containing coords, or a
	// ProtocolError(ErrMissingRequiredData) if no area contains the point.
	Resolve(ctx context.Context, coords domain.Coordinates) (uint32, error)
}

// CodeCatalog validates that a reported weather_code belongs to the
// implementation-defined enumeration of recognized weather codes.
type CodeCatalog interface {
	// Allowed reports whether code is a recognized weather_code value.
	Allowed(code uint16) bool
}

// UpstreamClient sends a request packet to another WIP server and
// returns its correlated response, used by the Weather server to issue
// its Location and Query hops.
type UpstreamClient interface {
	// Send transmits req to addr and waits for the response carrying
	// req.Header.PacketID, honoring ctx's deadline.
	Send(ctx context.Context, addr string, req domain.Packet) (domain.Packet, error)
}

// RateLimitService defines the interface for rate-limiting functionality,
// used to throttle the HTTP side-channel. Report ingestion over UDP is
// not throttled.
type RateLimitService interface {
	// Allow checks if a request should be allowed based on the rate limit.
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error)

	// Reset clears the rate limit counter for the specified identifier.
	Reset(ctx context.Context, identifier string) error
}

// AuditRepository records per-packet operational audit trail and weather
// request analytics, mirrored from processed WIP traffic. It is
// non-authoritative: nothing in the protocol reads these records back.
type AuditRepository interface {
	// LogPacket records one processed packet's audit trail.
	LogPacket(ctx context.Context, rec AuditRecord) error

	// GetStats retrieves aggregated statistics since the given time.
	GetStats(ctx context.Context, since time.Time) (map[string]interface{}, error)
}

// AuditRecord captures one processed packet for audit logging and
// analytics. It is an ambient-stack addition layered on top of the wire
// protocol, not part of the protocol itself.
type AuditRecord struct {
	Role         domain.Role
	PacketID     uint16
	Type         domain.PacketType
	AreaCode     uint32
	RemoteAddr   string
	ResultCode   uint8
	DurationMs   int64
	ErrorMessage *string
}
