package tracking

import (
	"database/sql"
	"fmt"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/geo"
)

// ItemPickupRadiusMeters is how close a position must be to collect an item.
const ItemPickupRadiusMeters = 100.0

// scanItems checks the full catalog against pos and records a pickup for
// each item in range. Items the athlete already holds are skipped silently.
func (s *Service) scanItems(tx *sql.Tx, athleteID int64, pos *database.Position) ([]database.CollectibleItem, error) {
	items, err := s.db.ListCollectibleItems(tx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	here := geo.Point{Latitude: pos.Latitude, Longitude: pos.Longitude}
	var collected []database.CollectibleItem
	for _, it := range items {
		if geo.DistanceMeters(here, geo.Point{Latitude: it.Latitude, Longitude: it.Longitude}) > ItemPickupRadiusMeters {
			continue
		}
		added, err := s.db.AddItemCollector(tx, it.ID, athleteID)
		if err != nil {
			return nil, fmt.Errorf("collect item %d: %w", it.ID, err)
		}
		if added {
			collected = append(collected, it)
		}
	}
	return collected, nil
}
