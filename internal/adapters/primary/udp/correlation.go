package udp

import (
	"sync"
	"time"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// pendingEntry tracks one outstanding upstream request awaiting a
// correlated response on the Weather server's shared upstream socket.
type pendingEntry struct {
	resultCh chan domain.Packet
	deadline time.Time
}

// correlationShards is the number of independent locked buckets the
// correlation map is split across, bounding lock contention under
// concurrent workers.
const correlationShards = 16

// CorrelationMap tracks in-flight upstream requests keyed by the
// upstream packet id minted for them, so responses arriving
// asynchronously on the shared upstream socket can be routed back to
// the worker goroutine awaiting them.
type CorrelationMap struct {
	shards [correlationShards]correlationShard
}

type correlationShard struct {
	mu      sync.Mutex
	entries map[uint16]*pendingEntry
}

// NewCorrelationMap builds an empty CorrelationMap.
func NewCorrelationMap() *CorrelationMap {
	cm := &CorrelationMap{}

	for i := range cm.shards {
		cm.shards[i].entries = make(map[uint16]*pendingEntry)
	}

	return cm
}

func (cm *CorrelationMap) shard(id uint16) *correlationShard {
	return &cm.shards[id%correlationShards]
}

// Register creates a waiting slot for upstreamID with the given
// deadline and returns the channel the caller should block on to
// receive the eventual response.
func (cm *CorrelationMap) Register(upstreamID uint16, deadline time.Time) <-chan domain.Packet {
	shard := cm.shard(upstreamID)
	ch := make(chan domain.Packet, 1)

	shard.mu.Lock()
	shard.entries[upstreamID] = &pendingEntry{resultCh: ch, deadline: deadline}
	shard.mu.Unlock()

	return ch
}

// Resolve delivers pkt to the waiting caller registered under
// pkt.Header.PacketID, if any, and removes the entry. It reports
// whether a waiter was found.
func (cm *CorrelationMap) Resolve(pkt domain.Packet) bool {
	shard := cm.shard(pkt.Header.PacketID)

	shard.mu.Lock()
	entry, ok := shard.entries[pkt.Header.PacketID]
	if ok {
		delete(shard.entries, pkt.Header.PacketID)
	}
	shard.mu.Unlock()

	if !ok {
		return false
	}

	entry.resultCh <- pkt

	return true
}

// Forget removes the entry for upstreamID without delivering a result,
// used when the caller gives up waiting (its own context expired).
func (cm *CorrelationMap) Forget(upstreamID uint16) {
	shard := cm.shard(upstreamID)

	shard.mu.Lock()
	delete(shard.entries, upstreamID)
	shard.mu.Unlock()
}

// Reap removes entries whose deadline has passed, returning the count
// removed. It is intended to run on a background ticker so a crashed
// or silently-dropped upstream response never leaks a map entry.
func (cm *CorrelationMap) Reap(now time.Time) int {
	removed := 0

	for i := range cm.shards {
		shard := &cm.shards[i]

		shard.mu.Lock()
		for id, entry := range shard.entries {
			if now.After(entry.deadline) {
				delete(shard.entries, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	return removed
}

// Len returns the total number of in-flight entries across all shards.
func (cm *CorrelationMap) Len() int {
	total := 0

	for i := range cm.shards {
		cm.shards[i].mu.Lock()
		total += len(cm.shards[i].entries)
		cm.shards[i].mu.Unlock()
	}

	return total
}
