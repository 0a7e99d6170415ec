package database

// --- Challenge Queries ---

func (s *Service) ChallengeExists(db DBorTx, athleteID int64, fullName string) (bool, error) {
	var exists bool
	err := db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM challenges WHERE athlete_id = ? AND full_name = ?);`,
		athleteID, fullName,
	).Scan(&exists)
	return exists, err
}

// CreateChallenge awards fullName to the athlete. It reports false, without
// error, when the athlete already holds it.
func (s *Service) CreateChallenge(db DBorTx, athleteID int64, fullName string) (bool, error) {
	res, err := db.Exec(
		`INSERT INTO challenges (athlete_id, full_name) VALUES (?, ?) ON CONFLICT (athlete_id, full_name) DO NOTHING;`,
		athleteID, fullName,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListChallenges returns awarded challenges, for one athlete when athleteID is non-zero.
func (s *Service) ListChallenges(db DBorTx, athleteID int64) ([]Challenge, error) {
	query := `SELECT id, athlete_id, full_name FROM challenges`
	var args []interface{}
	if athleteID != 0 {
		query += ` WHERE athlete_id = ?`
		args = append(args, athleteID)
	}
	rows, err := db.Query(query+` ORDER BY id;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	challenges := []Challenge{}
	for rows.Next() {
		var c Challenge
		if err := rows.Scan(&c.ID, &c.AthleteID, &c.FullName); err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

// ListChallengeHolders returns every (challenge, athlete) pair ordered by
// challenge name, then athlete.
func (s *Service) ListChallengeHolders(db DBorTx) ([]ChallengeHolder, error) {
	rows, err := db.Query(`
		SELECT c.full_name, u.id, u.first_name, u.last_name
		FROM challenges c
		JOIN users u ON u.id = c.athlete_id
		ORDER BY c.full_name, u.id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []ChallengeHolder
	for rows.Next() {
		var h ChallengeHolder
		if err := rows.Scan(&h.FullName, &h.AthleteID, &h.FirstName, &h.LastName); err != nil {
			return nil, err
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}
