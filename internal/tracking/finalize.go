package tracking

import (
	"database/sql"
	"fmt"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/geo"
)

// finalizeRun sets the run's total distance from its positions in insertion
// order, then its timing. run is updated in place.
func (s *Service) finalizeRun(tx *sql.Tx, run *database.Run) error {
	if run.Status != database.RunStatusFinished {
		return newError(ErrInvalidState, "run must be finished to finalize")
	}

	positions, err := s.db.ListPositionsByRun(tx, run.ID)
	if err != nil {
		return fmt.Errorf("positions for run %d: %w", run.ID, err)
	}
	points := make([]geo.Point, len(positions))
	for i, p := range positions {
		points[i] = geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}
	}

	km := geo.PathKm(points)
	if err := s.db.UpdateRunDistance(tx, run.ID, km); err != nil {
		return fmt.Errorf("update distance for run %d: %w", run.ID, err)
	}
	run.Distance = sql.NullFloat64{Float64: km, Valid: true}

	return s.computeTiming(tx, run)
}

// computeTiming sets run_time_seconds from the spread of sample timestamps
// and speed from the mean sample speed. A run with no positions is left as is.
func (s *Service) computeTiming(tx *sql.Tx, run *database.Run) error {
	stats, err := s.db.GetRunTimingStats(tx, run.ID)
	if err != nil {
		return fmt.Errorf("timing stats for run %d: %w", run.ID, err)
	}
	if stats.Count == 0 {
		return nil
	}

	runTime := sql.NullInt64{Int64: (stats.MaxRecordedUS.Int64 - stats.MinRecordedUS.Int64) / 1_000_000, Valid: true}
	speed := sql.NullFloat64{Float64: geo.Round(stats.AvgSpeed.Float64, 2), Valid: stats.AvgSpeed.Valid}

	if err := s.db.UpdateRunTiming(tx, run.ID, runTime, speed); err != nil {
		return fmt.Errorf("update timing for run %d: %w", run.ID, err)
	}
	run.RunTimeSeconds = runTime
	run.Speed = speed
	return nil
}
