// Package tracking implements the run lifecycle: status transitions, GPS
// ingestion, finish-time aggregation, challenge awards and item pickups.
//
// Every mutating operation runs inside a single database transaction, so a
// run is never observed half-finished and awards are never granted for a
// transition that rolled back.
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/metrics"
)

// Notifier is told about newly awarded challenges after the awarding
// transaction has committed. A failing notifier never undoes an award.
type Notifier interface {
	NotifyChallenges(athlete *database.User, challenges []string) error
}

// Service coordinates run state changes against the store.
type Service struct {
	db       *database.Service
	notifier Notifier
	now      func() time.Time
}

// NewService returns a Service. notifier may be nil.
func NewService(db *database.Service, notifier Notifier) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		now:      time.Now,
	}
}

// Outcome is the result of an operation that may award challenges.
type Outcome struct {
	Run     *database.Run
	Awarded []string
}

// StartRun moves a run from init to in_progress and stamps start_time.
func (s *Service) StartRun(ctx context.Context, runID int64) (*database.Run, error) {
	var run *database.Run
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		current, err := s.loadRun(tx, runID)
		if err != nil {
			return err
		}
		if current.Status != database.RunStatusInit {
			return newError(ErrInvalidTransition, "run already started or finished")
		}

		ok, err := s.db.MarkRunStarted(tx, runID, s.now())
		if err != nil {
			return fmt.Errorf("start run %d: %w", runID, err)
		}
		if !ok {
			return newError(ErrInvalidTransition, "run already started or finished")
		}

		run, err = s.db.GetRunByID(tx, runID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RunTransitions.WithLabelValues(database.RunStatusInProgress).Inc()
	logging.Ctx(ctx).Info().Int64("run_id", run.ID).Int64("athlete_id", run.AthleteID).Msg("run started")
	return run, nil
}

// StopRun moves a run from in_progress to finished, then finalizes its
// distance and timing and evaluates challenges, all in one transaction.
func (s *Service) StopRun(ctx context.Context, runID int64) (*Outcome, error) {
	out := &Outcome{}
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		current, err := s.loadRun(tx, runID)
		if err != nil {
			return err
		}
		if current.Status != database.RunStatusInProgress {
			return newError(ErrInvalidTransition, "run not started or already finished")
		}

		ok, err := s.db.MarkRunFinished(tx, runID, s.now())
		if err != nil {
			return fmt.Errorf("stop run %d: %w", runID, err)
		}
		if !ok {
			return newError(ErrInvalidTransition, "run not started or already finished")
		}

		run, err := s.db.GetRunByID(tx, runID)
		if err != nil {
			return err
		}
		if err := s.finalizeRun(tx, run); err != nil {
			return err
		}
		out.Awarded, err = s.evaluateChallenges(tx, run, true)
		if err != nil {
			return err
		}
		out.Run = run
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RunTransitions.WithLabelValues(database.RunStatusFinished).Inc()
	logging.Ctx(ctx).Info().
		Int64("run_id", out.Run.ID).
		Int64("athlete_id", out.Run.AthleteID).
		Float64("distance_km", out.Run.Distance.Float64).
		Msg("run finished")
	s.announce(ctx, out.Run.AthleteID, out.Awarded)
	return out, nil
}

// ComputeTiming recomputes run_time_seconds and speed of a finished run from
// its positions and re-checks the timed challenge.
func (s *Service) ComputeTiming(ctx context.Context, runID int64) (*Outcome, error) {
	out := &Outcome{}
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		run, err := s.loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != database.RunStatusFinished {
			return newError(ErrInvalidState, "run must be finished to compute timing")
		}
		if err := s.computeTiming(tx, run); err != nil {
			return err
		}
		out.Awarded, err = s.evaluateChallenges(tx, run, false)
		if err != nil {
			return err
		}
		out.Run = run
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, out.Run.AthleteID, out.Awarded)
	return out, nil
}

func (s *Service) loadRun(db database.DBorTx, runID int64) (*database.Run, error) {
	run, err := s.db.GetRunByID(db, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrNotFound, "run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}
	return run, nil
}

// announce runs after commit: metrics, logs and the optional notifier.
func (s *Service) announce(ctx context.Context, athleteID int64, awarded []string) {
	if len(awarded) == 0 {
		return
	}
	for _, name := range awarded {
		metrics.ChallengesAwarded.WithLabelValues(name).Inc()
	}
	log := logging.Ctx(ctx)
	log.Info().Int64("athlete_id", athleteID).Strs("challenges", awarded).Msg("challenges awarded")

	if s.notifier == nil {
		return
	}
	athlete, err := s.db.GetUserByID(s.db.GetMainDB(), athleteID)
	if err != nil {
		log.Warn().Err(err).Int64("athlete_id", athleteID).Msg("could not load athlete for notification")
		return
	}
	if err := s.notifier.NotifyChallenges(athlete, awarded); err != nil {
		metrics.NotificationsFailed.Inc()
		log.Warn().Err(err).Int64("athlete_id", athleteID).Msg("challenge notification failed")
	}
}
