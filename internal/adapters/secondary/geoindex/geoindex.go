// Package geoindex implements ports.AreaResolver over a small
// bounding-box spatial table loaded from a JSON fixture, standing in
// for a GIS lookup treated as an external collaborator.
package geoindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// Area describes one bounding box and the area_code it resolves to.
type Area struct {
	AreaCode uint32  `json:"area_code"`
	MinLat   float64 `json:"min_lat"`
	MaxLat   float64 `json:"max_lat"`
	MinLon   float64 `json:"min_lon"`
	MaxLon   float64 `json:"max_lon"`
	Name     string  `json:"name"`
}

func (a Area) contains(c domain.Coordinates) bool {
	return c.Latitude >= a.MinLat && c.Latitude <= a.MaxLat &&
		c.Longitude >= a.MinLon && c.Longitude <= a.MaxLon
}

// Index implements ports.AreaResolver with a fixed, in-memory list of
// bounding boxes, the first matching box winning on overlap.
type Index struct {
	mu    sync.RWMutex
	areas []Area
}

// New builds an Index from areas directly.
func New(areas []Area) *Index {
	return &Index{areas: areas}
}

// LoadFile builds an Index from a JSON fixture file holding an array of
// Area records.
func LoadFile(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geoindex fixture %s: %w", path, err)
	}

	var areas []Area
	if err := json.Unmarshal(raw, &areas); err != nil {
		return nil, fmt.Errorf("parsing geoindex fixture %s: %w", path, err)
	}

	return New(areas), nil
}

// Resolve implements ports.AreaResolver.
func (idx *Index) Resolve(_ context.Context, coords domain.Coordinates) (uint32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, a := range idx.areas {
		if a.contains(coords) {
			return a.AreaCode, nil
		}
	}

	return 0, domain.NewProtocolError(domain.ErrMissingRequiredData, "coordinates do not resolve to a known area", nil)
}

// Reload atomically replaces the index's area list, allowing the
// spatial table to be refreshed without restarting the Location server.
func (idx *Index) Reload(areas []Area) {
	idx.mu.Lock()
	idx.areas = areas
	idx.mu.Unlock()
}
