package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/geo"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/metrics"
)

// coordinatePlaces is the precision positions are stored with.
const coordinatePlaces = 4

// Sample is one raw GPS fix as reported by a client or read from a track file.
type Sample struct {
	Latitude  float64
	Longitude float64
	Time      time.Time
}

func (smp Sample) validate() error {
	if !geo.ValidCoordinates(smp.Latitude, smp.Longitude) {
		return newError(ErrValidation, "coordinates out of range: latitude must be in [-90, 90] and longitude in [-180, 180]")
	}
	if smp.Time.IsZero() {
		return newError(ErrValidation, "date_time is required")
	}
	return nil
}

// RecordPosition stores one sample for an in-progress run. Speed and
// cumulative distance are derived from the run's latest earlier sample.
// Any catalog items within reach are collected for the run's athlete.
func (s *Service) RecordPosition(ctx context.Context, runID int64, smp Sample) (*database.Position, []database.CollectibleItem, error) {
	var (
		pos       *database.Position
		collected []database.CollectibleItem
	)
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		run, err := s.loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != database.RunStatusInProgress {
			return newError(ErrInvalidState, "run must be in progress to record positions")
		}
		if err := smp.validate(); err != nil {
			return err
		}

		pos, collected, err = s.ingest(tx, run, smp)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.PositionsRecorded.Inc()
	s.logCollected(ctx, runID, collected)
	return pos, collected, nil
}

// RecordTrack stores a batch of samples for an in-progress run in timestamp
// order. Either every sample is stored or none is.
func (s *Service) RecordTrack(ctx context.Context, runID int64, samples []Sample) ([]database.Position, []database.CollectibleItem, error) {
	if len(samples) == 0 {
		return nil, nil, newError(ErrValidation, "track contains no points")
	}
	for i, smp := range samples {
		if err := smp.validate(); err != nil {
			return nil, nil, newError(ErrValidation, "point %d: %s", i+1, err.Error())
		}
	}

	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time.Before(ordered[j].Time) })

	var (
		stored    []database.Position
		collected []database.CollectibleItem
	)
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		run, err := s.loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != database.RunStatusInProgress {
			return newError(ErrInvalidState, "run must be in progress to record positions")
		}
		for _, smp := range ordered {
			pos, items, err := s.ingest(tx, run, smp)
			if err != nil {
				return err
			}
			stored = append(stored, *pos)
			collected = append(collected, items...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.PositionsRecorded.Add(float64(len(stored)))
	logging.Ctx(ctx).Info().Int64("run_id", runID).Int("points", len(stored)).Msg("track imported")
	s.logCollected(ctx, runID, collected)
	return stored, collected, nil
}

func (s *Service) ingest(tx *sql.Tx, run *database.Run, smp Sample) (*database.Position, []database.CollectibleItem, error) {
	p := &database.Position{
		RunID:     run.ID,
		Latitude:  geo.Round(smp.Latitude, coordinatePlaces),
		Longitude: geo.Round(smp.Longitude, coordinatePlaces),
		DateTime:  smp.Time.UTC().Truncate(time.Microsecond),
	}

	prev, err := s.db.GetLatestPosition(tx, run.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First sample of the run.
	case err != nil:
		return nil, nil, fmt.Errorf("previous position for run %d: %w", run.ID, err)
	default:
		meters := geo.DistanceMeters(
			geo.Point{Latitude: prev.Latitude, Longitude: prev.Longitude},
			geo.Point{Latitude: p.Latitude, Longitude: p.Longitude},
		)
		if elapsed := p.DateTime.Sub(prev.DateTime).Seconds(); elapsed > 0 {
			p.Speed = geo.Round(meters/elapsed, 2)
		}
		p.Distance = geo.Round(prev.Distance+meters/1000, 2)
	}

	stored, err := s.db.CreatePosition(tx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("store position for run %d: %w", run.ID, err)
	}

	items, err := s.scanItems(tx, run.AthleteID, stored)
	if err != nil {
		return nil, nil, err
	}
	return stored, items, nil
}

func (s *Service) logCollected(ctx context.Context, runID int64, items []database.CollectibleItem) {
	if len(items) == 0 {
		return
	}
	metrics.ItemsCollected.Add(float64(len(items)))
	uids := make([]string, len(items))
	for i, it := range items {
		uids[i] = it.UID
	}
	logging.Ctx(ctx).Info().Int64("run_id", runID).Strs("items", uids).Msg("items collected")
}
