package database

import (
	"time"
)

// --- Position Queries ---

const positionColumns = `id, run_id, latitude, longitude, recorded_us, created_at, speed, distance`

func scanPosition(row interface{ Scan(...interface{}) error }, p *Position) error {
	var recordedUS int64
	if err := row.Scan(
		&p.ID,
		&p.RunID,
		&p.Latitude,
		&p.Longitude,
		&recordedUS,
		&p.CreatedAt,
		&p.Speed,
		&p.Distance,
	); err != nil {
		return err
	}
	p.DateTime = time.UnixMicro(recordedUS).UTC()
	return nil
}

// CreatePosition inserts p and fills in its ID and CreatedAt.
func (s *Service) CreatePosition(db DBorTx, p *Position) (*Position, error) {
	res, err := db.Exec(
		`INSERT INTO positions (run_id, latitude, longitude, recorded_us, speed, distance) VALUES (?, ?, ?, ?, ?, ?);`,
		p.RunID, p.Latitude, p.Longitude, p.DateTime.UnixMicro(), p.Speed, p.Distance,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetPositionByID(db, id)
}

func (s *Service) GetPositionByID(db DBorTx, id int64) (*Position, error) {
	p := &Position{}
	if err := scanPosition(db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?;`, id), p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetLatestPosition returns the run's most recent sample by client timestamp,
// ties broken by insertion order. sql.ErrNoRows when the run has none.
func (s *Service) GetLatestPosition(db DBorTx, runID int64) (*Position, error) {
	p := &Position{}
	err := scanPosition(db.QueryRow(
		`SELECT `+positionColumns+` FROM positions WHERE run_id = ? ORDER BY recorded_us DESC, id DESC LIMIT 1;`,
		runID,
	), p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPositionsByRun returns a run's positions in insertion order.
func (s *Service) ListPositionsByRun(db DBorTx, runID int64) ([]Position, error) {
	rows, err := db.Query(`SELECT `+positionColumns+` FROM positions WHERE run_id = ? ORDER BY id;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		var p Position
		if err := scanPosition(rows, &p); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetRunTimingStats aggregates timestamps and speeds over a run's positions.
func (s *Service) GetRunTimingStats(db DBorTx, runID int64) (*RunTimingStats, error) {
	st := &RunTimingStats{}
	err := db.QueryRow(
		`SELECT MIN(recorded_us), MAX(recorded_us), AVG(speed), COUNT(*) FROM positions WHERE run_id = ?;`,
		runID,
	).Scan(&st.MinRecordedUS, &st.MaxRecordedUS, &st.AvgSpeed, &st.Count)
	if err != nil {
		return nil, err
	}
	return st, nil
}
