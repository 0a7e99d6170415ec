package database

import (
	"database/sql"
	"time"
)

// Run status values. A run only ever moves forward through them.
const (
	RunStatusInit       = "init"
	RunStatusInProgress = "in_progress"
	RunStatusFinished   = "finished"
)

// User represents a record in the 'users' table. IsStaff marks a coach.
type User struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash sql.NullString // NULL for Google-only accounts
	IsStaff      bool
	DateJoined   time.Time
}

// UserSummary is a user plus the aggregates shown in user listings.
type UserSummary struct {
	User
	RunsFinished int
	Rating       sql.NullFloat64 // mean subscription rating, coaches only
}

// Run represents a record in the 'runs' table. Distance, Speed and
// RunTimeSeconds stay NULL until the run is finished or timing is computed.
type Run struct {
	ID             int64
	AthleteID      int64
	Status         string
	Comment        string
	CreatedAt      time.Time
	StartTime      sql.NullTime
	FinishTime     sql.NullTime
	Distance       sql.NullFloat64
	Speed          sql.NullFloat64
	RunTimeSeconds sql.NullInt64
}

// Position is a single GPS sample belonging to a run.
type Position struct {
	ID        int64
	RunID     int64
	Latitude  float64
	Longitude float64
	DateTime  time.Time // client timestamp, UTC, microsecond precision
	CreatedAt time.Time
	Speed     float64 // m/s from the previous sample
	Distance  float64 // cumulative km within the run
}

// RunTimingStats are the aggregates over a run's positions.
type RunTimingStats struct {
	MinRecordedUS sql.NullInt64
	MaxRecordedUS sql.NullInt64
	AvgSpeed      sql.NullFloat64
	Count         int
}

// Challenge is an award earned by an athlete.
type Challenge struct {
	ID        int64
	AthleteID int64
	FullName  string
}

// ChallengeHolder is one athlete holding a named challenge.
type ChallengeHolder struct {
	FullName  string
	AthleteID int64
	FirstName string
	LastName  string
}

// CollectibleItem is a catalog item placed at a location.
type CollectibleItem struct {
	ID        int64
	Name      string
	UID       string
	Latitude  float64
	Longitude float64
	Picture   string
	Value     int
}

// Subscription links an athlete to a coach with an optional 1..5 rating.
type Subscription struct {
	ID        int64
	AthleteID int64
	CoachID   int64
	Rating    sql.NullInt64
}

// AthleteInfo holds an athlete's self-reported goals and weight.
type AthleteInfo struct {
	UserID int64
	Goals  string
	Weight sql.NullInt64
}

// AthleteStat pairs an athlete with a single aggregate value.
type AthleteStat struct {
	AthleteID int64
	Value     float64
}
