package tracking

import (
	"database/sql"
	"fmt"

	"github.com/intermernet/runtracker/internal/database"
)

// Challenge catalog.
const (
	ChallengeTenRuns   = "Run 10 times!"
	ChallengeFiftyKm   = "Run 50 km!"
	ChallengeTwoKmFast = "2 km in 10 minutes!"
)

// Challenges lists every challenge an athlete can earn.
var Challenges = []string{ChallengeTenRuns, ChallengeFiftyKm, ChallengeTwoKmFast}

const (
	tenRunsCount     = 10
	fiftyKmTotal     = 50.0
	twoKmDistance    = 2.0
	twoKmTimeSeconds = 600
)

// evaluateChallenges awards whatever the athlete has just earned with run.
// The run-count and total-distance checks only apply on the finish
// transition. The 2 km check applies whenever timing is known. It returns
// the names awarded by this call.
func (s *Service) evaluateChallenges(tx *sql.Tx, run *database.Run, finishing bool) ([]string, error) {
	var earned []string

	if finishing {
		count, err := s.db.CountFinishedRuns(tx, run.AthleteID)
		if err != nil {
			return nil, fmt.Errorf("count finished runs: %w", err)
		}
		// Exactly ten, so the award fires once at the tenth finish.
		if count == tenRunsCount {
			earned = append(earned, ChallengeTenRuns)
		}

		total, err := s.db.SumFinishedDistance(tx, run.AthleteID)
		if err != nil {
			return nil, fmt.Errorf("sum finished distance: %w", err)
		}
		if total >= fiftyKmTotal {
			earned = append(earned, ChallengeFiftyKm)
		}
	}

	if run.Distance.Valid && run.Distance.Float64 >= twoKmDistance &&
		run.RunTimeSeconds.Valid && run.RunTimeSeconds.Int64 <= twoKmTimeSeconds {
		earned = append(earned, ChallengeTwoKmFast)
	}

	var awarded []string
	for _, name := range earned {
		ok, err := s.award(tx, run.AthleteID, name)
		if err != nil {
			return nil, err
		}
		if ok {
			awarded = append(awarded, name)
		}
	}
	return awarded, nil
}

// award grants name once. The unique (athlete_id, full_name) constraint
// backs the existence check.
func (s *Service) award(tx *sql.Tx, athleteID int64, name string) (bool, error) {
	exists, err := s.db.ChallengeExists(tx, athleteID, name)
	if err != nil {
		return false, fmt.Errorf("check challenge %q: %w", name, err)
	}
	if exists {
		return false, nil
	}
	created, err := s.db.CreateChallenge(tx, athleteID, name)
	if err != nil {
		return false, fmt.Errorf("award challenge %q: %w", name, err)
	}
	return created, nil
}
