package database

import (
	"database/sql"
	"errors"
	"strings"
)

// --- User Queries ---

const userColumns = `id, username, email, first_name, last_name, password_hash, is_staff, date_joined`

// NewUser carries the fields needed to insert a user.
type NewUser struct {
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string // empty for Google-only accounts
	IsStaff      bool
}

func scanUser(row interface{ Scan(...interface{}) error }, user *User) error {
	return row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.IsStaff,
		&user.DateJoined,
	)
}

func (s *Service) CreateUser(db DBorTx, u NewUser) (*User, error) {
	// An empty password hash is stored as NULL.
	var hash interface{} = u.PasswordHash
	if u.PasswordHash == "" {
		hash = nil
	}
	query := `INSERT INTO users (username, email, first_name, last_name, password_hash, is_staff) VALUES (?, ?, ?, ?, ?, ?);`
	res, err := db.Exec(query, u.Username, u.Email, u.FirstName, u.LastName, hash, u.IsStaff)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(db, id)
}

func (s *Service) GetUserByEmail(db DBorTx, email string) (*User, error) {
	user := &User{}
	err := scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?;`, email), user)
	if err != nil {
		return nil, err // sql.ErrNoRows if not found
	}
	return user, nil
}

func (s *Service) GetUserByID(db DBorTx, id int64) (*User, error) {
	user := &User{}
	err := scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?;`, id), user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserExistsByUsername reports whether the username is taken.
func (s *Service) UserExistsByUsername(db DBorTx, username string) (bool, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM users WHERE username = ?);`, username).Scan(&exists)
	return exists, err
}

// UpdateUser updates any non-empty name fields and the password hash.
func (s *Service) UpdateUser(db DBorTx, userID int64, firstName, lastName, passwordHash string) error {
	var sets []string
	var args []interface{}
	if firstName != "" {
		sets = append(sets, "first_name = ?")
		args = append(args, firstName)
	}
	if lastName != "" {
		sets = append(sets, "last_name = ?")
		args = append(args, lastName)
	}
	if passwordHash != "" {
		sets = append(sets, "password_hash = ?")
		args = append(args, passwordHash)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userID)

	res, err := db.Exec("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?;", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteUser removes the user. Runs, positions, challenges, subscriptions and
// collected items go with it through ON DELETE CASCADE.
func (s *Service) DeleteUser(db DBorTx, userID int64) error {
	_, err := db.Exec("DELETE FROM users WHERE id = ?", userID)
	return err
}

// UserFilter narrows ListUsers. Type is "coach", "athlete" or empty for all.
type UserFilter struct {
	Type   string
	Search string
}

// ListUsers returns users with their finished-run count and, for coaches,
// the mean rating across subscriptions.
func (s *Service) ListUsers(db DBorTx, f UserFilter) ([]UserSummary, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.password_hash, u.is_staff, u.date_joined,
			(SELECT COUNT(*) FROM runs r WHERE r.athlete_id = u.id AND r.status = 'finished'),
			(SELECT AVG(sb.rating) FROM subscriptions sb WHERE sb.coach_id = u.id AND sb.rating IS NOT NULL)
		FROM users u
		WHERE 1 = 1`)

	var args []interface{}
	switch f.Type {
	case "coach":
		sb.WriteString(" AND u.is_staff = 1")
	case "athlete":
		sb.WriteString(" AND u.is_staff = 0")
	}
	if f.Search != "" {
		sb.WriteString(" AND (u.first_name LIKE ? OR u.last_name LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	sb.WriteString(" ORDER BY u.id;")

	rows, err := db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var us UserSummary
		if err := rows.Scan(
			&us.ID, &us.Username, &us.Email, &us.FirstName, &us.LastName,
			&us.PasswordHash, &us.IsStaff, &us.DateJoined,
			&us.RunsFinished, &us.Rating,
		); err != nil {
			return nil, err
		}
		users = append(users, us)
	}
	return users, rows.Err()
}

// --- Subscription Queries ---

// CreateSubscription links an athlete to a coach. The unique constraint on
// (athlete_id, coach_id) rejects duplicates.
func (s *Service) CreateSubscription(db DBorTx, athleteID, coachID int64) (*Subscription, error) {
	res, err := db.Exec(`INSERT INTO subscriptions (athlete_id, coach_id) VALUES (?, ?);`, athleteID, coachID)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Subscription{ID: id, AthleteID: athleteID, CoachID: coachID}, nil
}

func (s *Service) GetSubscription(db DBorTx, athleteID, coachID int64) (*Subscription, error) {
	sub := &Subscription{}
	err := db.QueryRow(
		`SELECT id, athlete_id, coach_id, rating FROM subscriptions WHERE athlete_id = ? AND coach_id = ?;`,
		athleteID, coachID,
	).Scan(&sub.ID, &sub.AthleteID, &sub.CoachID, &sub.Rating)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) UpdateSubscriptionRating(db DBorTx, subscriptionID int64, rating int) error {
	res, err := db.Exec(`UPDATE subscriptions SET rating = ? WHERE id = ?;`, rating, subscriptionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("subscription not found")
	}
	return nil
}

// GetCoachIDsForAthlete lists the coaches an athlete subscribes to.
func (s *Service) GetCoachIDsForAthlete(db DBorTx, athleteID int64) ([]int64, error) {
	return queryIDs(db, `SELECT coach_id FROM subscriptions WHERE athlete_id = ? ORDER BY coach_id;`, athleteID)
}

// GetAthleteIDsForCoach lists the athletes subscribed to a coach.
func (s *Service) GetAthleteIDsForCoach(db DBorTx, coachID int64) ([]int64, error) {
	return queryIDs(db, `SELECT athlete_id FROM subscriptions WHERE coach_id = ? ORDER BY athlete_id;`, coachID)
}

func queryIDs(db DBorTx, query string, args ...interface{}) ([]int64, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Coach Analytics ---

const coachFinishedRuns = `
	FROM runs r
	JOIN subscriptions sb ON sb.athlete_id = r.athlete_id
	WHERE sb.coach_id = ? AND r.status = 'finished' AND r.distance IS NOT NULL`

// LongestRunForCoach returns the athlete with the single longest finished run.
func (s *Service) LongestRunForCoach(db DBorTx, coachID int64) (*AthleteStat, error) {
	return queryStat(db, `SELECT r.athlete_id, r.distance`+coachFinishedRuns+
		` ORDER BY r.distance DESC, r.athlete_id LIMIT 1;`, coachID)
}

// TotalDistanceLeaderForCoach returns the athlete with the largest total distance.
func (s *Service) TotalDistanceLeaderForCoach(db DBorTx, coachID int64) (*AthleteStat, error) {
	return queryStat(db, `SELECT r.athlete_id, SUM(r.distance) AS total`+coachFinishedRuns+
		` GROUP BY r.athlete_id ORDER BY total DESC, r.athlete_id LIMIT 1;`, coachID)
}

// BestAverageSpeedForCoach returns the athlete with the highest mean run speed.
func (s *Service) BestAverageSpeedForCoach(db DBorTx, coachID int64) (*AthleteStat, error) {
	return queryStat(db, `SELECT r.athlete_id, AVG(r.speed) AS avg_speed`+coachFinishedRuns+
		` AND r.speed IS NOT NULL GROUP BY r.athlete_id ORDER BY avg_speed DESC, r.athlete_id LIMIT 1;`, coachID)
}

// queryStat returns nil, nil when the coach has no qualifying runs.
func queryStat(db DBorTx, query string, args ...interface{}) (*AthleteStat, error) {
	stat := &AthleteStat{}
	err := db.QueryRow(query, args...).Scan(&stat.AthleteID, &stat.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stat, nil
}

// --- Athlete Info ---

// GetOrCreateAthleteInfo returns the user's info row, inserting an empty one first if needed.
func (s *Service) GetOrCreateAthleteInfo(db DBorTx, userID int64) (*AthleteInfo, error) {
	if _, err := db.Exec(`INSERT OR IGNORE INTO athlete_infos (user_id) VALUES (?);`, userID); err != nil {
		return nil, err
	}
	info := &AthleteInfo{}
	err := db.QueryRow(`SELECT user_id, goals, weight FROM athlete_infos WHERE user_id = ?;`, userID).
		Scan(&info.UserID, &info.Goals, &info.Weight)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Service) UpdateAthleteInfo(db DBorTx, info *AthleteInfo) error {
	_, err := db.Exec(`
		INSERT INTO athlete_infos (user_id, goals, weight) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET goals = excluded.goals, weight = excluded.weight;`,
		info.UserID, info.Goals, info.Weight,
	)
	return err
}
