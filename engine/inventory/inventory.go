// Package inventory reads the dealership's inventory from the host system.
// The engine never writes vehicles.
package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/WessleyAI/pricing-engine/engine/domain"
)

// Inventory is the read-only view of dealership vehicles.
type Inventory interface {
	// InStock lists the vehicles currently for sale.
	InStock(ctx context.Context) ([]domain.Vehicle, error)
	// Get returns one vehicle by ID, in stock or not.
	Get(ctx context.Context, id string) (domain.Vehicle, bool, error)
}

// Static is an in-memory Inventory.
type Static struct {
	mu       sync.RWMutex
	vehicles map[string]domain.Vehicle
}

// NewStatic creates a Static inventory holding vehicles.
func NewStatic(vehicles ...domain.Vehicle) *Static {
	s := &Static{vehicles: make(map[string]domain.Vehicle, len(vehicles))}
	for _, v := range vehicles {
		s.vehicles[v.ID] = v
	}
	return s
}

// Put adds or replaces a vehicle.
func (s *Static) Put(v domain.Vehicle) {
	s.mu.Lock()
	s.vehicles[v.ID] = v
	s.mu.Unlock()
}

// InStock implements Inventory, ordered by ID.
func (s *Static) InStock(context.Context) ([]domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		if v.InStock {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements Inventory.
func (s *Static) Get(_ context.Context, id string) (domain.Vehicle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	return v, ok, nil
}
