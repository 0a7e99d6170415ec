package database

import (
	"database/sql"
	"strings"
	"time"
)

// --- Run Queries ---

const runColumns = `id, athlete_id, status, comment, created_at, start_time, finish_time, distance, speed, run_time_seconds`

func scanRun(row interface{ Scan(...interface{}) error }, run *Run) error {
	return row.Scan(
		&run.ID,
		&run.AthleteID,
		&run.Status,
		&run.Comment,
		&run.CreatedAt,
		&run.StartTime,
		&run.FinishTime,
		&run.Distance,
		&run.Speed,
		&run.RunTimeSeconds,
	)
}

// CreateRun inserts a run in the init state.
func (s *Service) CreateRun(db DBorTx, athleteID int64, comment string) (*Run, error) {
	res, err := db.Exec(`INSERT INTO runs (athlete_id, comment) VALUES (?, ?);`, athleteID, comment)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetRunByID(db, id)
}

func (s *Service) GetRunByID(db DBorTx, id int64) (*Run, error) {
	run := &Run{}
	if err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?;`, id), run); err != nil {
		return nil, err // sql.ErrNoRows if not found
	}
	return run, nil
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	AthleteID int64
	Status    string
}

func (s *Service) ListRuns(db DBorTx, f RunFilter) ([]Run, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`)
	var args []interface{}
	if f.AthleteID != 0 {
		sb.WriteString(" AND athlete_id = ?")
		args = append(args, f.AthleteID)
	}
	if f.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, f.Status)
	}
	sb.WriteString(" ORDER BY id;")

	rows, err := db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		if err := scanRun(rows, &run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunStarted moves a run from init to in_progress. It reports false when
// the run was not in init at the time of the write.
func (s *Service) MarkRunStarted(db DBorTx, runID int64, at time.Time) (bool, error) {
	res, err := db.Exec(
		`UPDATE runs SET status = ?, start_time = ? WHERE id = ? AND status = ?;`,
		RunStatusInProgress, at.UTC(), runID, RunStatusInit,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkRunFinished moves a run from in_progress to finished. It reports false
// when the run was not in_progress at the time of the write.
func (s *Service) MarkRunFinished(db DBorTx, runID int64, at time.Time) (bool, error) {
	res, err := db.Exec(
		`UPDATE runs SET status = ?, finish_time = ? WHERE id = ? AND status = ?;`,
		RunStatusFinished, at.UTC(), runID, RunStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Service) UpdateRunDistance(db DBorTx, runID int64, km float64) error {
	_, err := db.Exec(`UPDATE runs SET distance = ? WHERE id = ?;`, km, runID)
	return err
}

// UpdateRunTiming stores the derived timing fields. Invalid values are written as NULL.
func (s *Service) UpdateRunTiming(db DBorTx, runID int64, runTime sql.NullInt64, speed sql.NullFloat64) error {
	_, err := db.Exec(`UPDATE runs SET run_time_seconds = ?, speed = ? WHERE id = ?;`, runTime, speed, runID)
	return err
}

// CountFinishedRuns counts an athlete's finished runs.
func (s *Service) CountFinishedRuns(db DBorTx, athleteID int64) (int, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM runs WHERE athlete_id = ? AND status = ?;`,
		athleteID, RunStatusFinished,
	).Scan(&n)
	return n, err
}

// SumFinishedDistance sums distance over an athlete's finished runs. NULL distances count as 0.
func (s *Service) SumFinishedDistance(db DBorTx, athleteID int64) (float64, error) {
	var total float64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(distance), 0) FROM runs WHERE athlete_id = ? AND status = ?;`,
		athleteID, RunStatusFinished,
	).Scan(&total)
	return total, err
}
