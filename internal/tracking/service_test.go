package tracking

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/geo"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T, notifier Notifier) (*Service, *database.Service) {
	t.Helper()
	db, err := database.NewService(filepath.Join(t.TempDir(), "tracking.db"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.InitMainDB(); err != nil {
		t.Fatalf("InitMainDB: %v", err)
	}
	svc := NewService(db, notifier)
	svc.now = func() time.Time { return t0 }
	return svc, db
}

func newAthlete(t *testing.T, db *database.Service, name string) *database.User {
	t.Helper()
	u, err := db.CreateUser(db.GetMainDB(), database.NewUser{Username: name, Email: name + "@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func newRun(t *testing.T, db *database.Service, athleteID int64) *database.Run {
	t.Helper()
	run, err := db.CreateRun(db.GetMainDB(), athleteID, "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func startedRun(t *testing.T, svc *Service, db *database.Service, athleteID int64) *database.Run {
	t.Helper()
	run := newRun(t, db, athleteID)
	started, err := svc.StartRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	return started
}

func record(t *testing.T, svc *Service, runID int64, lat, lon float64, at time.Time) *database.Position {
	t.Helper()
	pos, _, err := svc.RecordPosition(context.Background(), runID, Sample{Latitude: lat, Longitude: lon, Time: at})
	if err != nil {
		t.Fatalf("RecordPosition(%v, %v): %v", lat, lon, err)
	}
	return pos
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("err = %v, want kind %v", err, kind)
	}
	var domainErr *Error
	if !errors.As(err, &domainErr) || domainErr.Message == "" {
		t.Fatalf("err = %#v, want *Error with message", err)
	}
}

// ===================================================================================================
// State machine
// ===================================================================================================

func TestStartRun(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := newRun(t, db, a.ID)
	ctx := context.Background()

	started, err := svc.StartRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if started.Status != database.RunStatusInProgress {
		t.Errorf("status = %q", started.Status)
	}
	if !started.StartTime.Valid || !started.StartTime.Time.Equal(t0) {
		t.Errorf("start_time = %v, want %v", started.StartTime, t0)
	}

	_, err = svc.StartRun(ctx, run.ID)
	assertKind(t, err, ErrInvalidTransition)
	if err.Error() != "run already started or finished" {
		t.Errorf("message = %q", err.Error())
	}

	_, err = svc.StartRun(ctx, 9999)
	assertKind(t, err, ErrNotFound)
}

func TestStopRun(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := newRun(t, db, a.ID)
	ctx := context.Background()

	_, err := svc.StopRun(ctx, run.ID)
	assertKind(t, err, ErrInvalidTransition)
	if err.Error() != "run not started or already finished" {
		t.Errorf("message = %q", err.Error())
	}

	if _, err := svc.StartRun(ctx, run.ID); err != nil {
		t.Fatal(err)
	}
	out, err := svc.StopRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	if out.Run.Status != database.RunStatusFinished || !out.Run.FinishTime.Valid {
		t.Errorf("run = %+v", out.Run)
	}
	// No positions: distance is zero, timing stays unset.
	if !out.Run.Distance.Valid || out.Run.Distance.Float64 != 0 {
		t.Errorf("distance = %+v, want 0", out.Run.Distance)
	}
	if out.Run.RunTimeSeconds.Valid || out.Run.Speed.Valid {
		t.Errorf("timing should be NULL without positions: %+v", out.Run)
	}

	_, err = svc.StopRun(ctx, run.ID)
	assertKind(t, err, ErrInvalidTransition)
	_, err = svc.StartRun(ctx, run.ID)
	assertKind(t, err, ErrInvalidTransition)

	_, err = svc.StopRun(ctx, 9999)
	assertKind(t, err, ErrNotFound)
}

func TestConcurrentStopOnlyOneWins(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StopRun(context.Background(), run.ID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Errorf("%d stops succeeded, want exactly 1", succeeded)
	}
}

// ===================================================================================================
// Position ingest
// ===================================================================================================

func TestRecordPositionPreconditions(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	ctx := context.Background()
	good := Sample{Latitude: 55.7558, Longitude: 37.6173, Time: t0}

	initRun := newRun(t, db, a.ID)
	_, _, err := svc.RecordPosition(ctx, initRun.ID, good)
	assertKind(t, err, ErrInvalidState)

	_, _, err = svc.RecordPosition(ctx, 9999, good)
	assertKind(t, err, ErrNotFound)

	run := startedRun(t, svc, db, a.ID)
	tests := []struct {
		name string
		smp  Sample
	}{
		{"latitude too high", Sample{Latitude: 90.5, Longitude: 0, Time: t0}},
		{"latitude too low", Sample{Latitude: -91, Longitude: 0, Time: t0}},
		{"longitude out of range", Sample{Latitude: 0, Longitude: 181, Time: t0}},
		{"missing timestamp", Sample{Latitude: 0, Longitude: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.RecordPosition(ctx, run.ID, tt.smp)
			assertKind(t, err, ErrValidation)
		})
	}

	positions, _ := db.ListPositionsByRun(db.GetMainDB(), run.ID)
	if len(positions) != 0 {
		t.Errorf("%d positions stored after rejected samples", len(positions))
	}
}

func TestRecordPositionDerivesSpeedAndDistance(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)

	first := record(t, svc, run.ID, 55.755831, 37.617349, t0)
	if first.Speed != 0 || first.Distance != 0 {
		t.Errorf("first sample speed=%v distance=%v, want 0/0", first.Speed, first.Distance)
	}
	if first.Latitude != 55.7558 || first.Longitude != 37.6173 {
		t.Errorf("coordinates not rounded: %v, %v", first.Latitude, first.Longitude)
	}

	second := record(t, svc, run.ID, 55.7568, 37.6173, t0.Add(60*time.Second))
	meters := geo.DistanceMeters(geo.Point{Latitude: 55.7558, Longitude: 37.6173}, geo.Point{Latitude: 55.7568, Longitude: 37.6173})
	if want := geo.Round(meters/60, 2); second.Speed != want {
		t.Errorf("speed = %v, want %v", second.Speed, want)
	}
	if want := geo.Round(meters/1000, 2); second.Distance != want {
		t.Errorf("distance = %v, want %v", second.Distance, want)
	}

	// Same timestamp as the previous sample: speed guarded to 0, distance still grows.
	third := record(t, svc, run.ID, 55.7578, 37.6173, t0.Add(60*time.Second))
	if third.Speed != 0 {
		t.Errorf("zero-elapsed speed = %v, want 0", third.Speed)
	}
	if third.Distance <= second.Distance {
		t.Errorf("distance did not accumulate: %v -> %v", second.Distance, third.Distance)
	}
}

func TestRecordPositionUsesLatestByTimestamp(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)

	record(t, svc, run.ID, 0, 0, t0)
	late := record(t, svc, run.ID, 0, 0.01, t0.Add(2*time.Minute))

	// Arrives after `late` but is stamped earlier: the previous sample is still
	// `late`, so elapsed is negative and speed falls back to 0.
	early := record(t, svc, run.ID, 0, 0.02, t0.Add(time.Minute))
	if early.Speed != 0 {
		t.Errorf("speed = %v, want 0 for non-positive elapsed", early.Speed)
	}
	meters := geo.DistanceMeters(geo.Point{Latitude: 0, Longitude: 0.01}, geo.Point{Latitude: 0, Longitude: 0.02})
	if want := geo.Round(late.Distance+meters/1000, 2); early.Distance != want {
		t.Errorf("distance = %v, want %v", early.Distance, want)
	}
}

func TestRecordTrack(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)
	ctx := context.Background()

	samples := []Sample{
		{Latitude: 0, Longitude: 0.002, Time: t0.Add(20 * time.Second)},
		{Latitude: 0, Longitude: 0, Time: t0},
		{Latitude: 0, Longitude: 0.001, Time: t0.Add(10 * time.Second)},
	}
	stored, _, err := svc.RecordTrack(ctx, run.ID, samples)
	if err != nil {
		t.Fatalf("RecordTrack: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d positions", len(stored))
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].DateTime.Before(stored[i-1].DateTime) {
			t.Errorf("positions not stored in timestamp order")
		}
	}
	if stored[0].Speed != 0 || stored[1].Speed == 0 {
		t.Errorf("speeds = %v, %v", stored[0].Speed, stored[1].Speed)
	}

	bad := []Sample{
		{Latitude: 1, Longitude: 1, Time: t0.Add(time.Hour)},
		{Latitude: 100, Longitude: 1, Time: t0.Add(2 * time.Hour)},
	}
	_, _, err = svc.RecordTrack(ctx, run.ID, bad)
	assertKind(t, err, ErrValidation)

	positions, _ := db.ListPositionsByRun(db.GetMainDB(), run.ID)
	if len(positions) != 3 {
		t.Errorf("rejected track left %d positions, want 3", len(positions))
	}

	_, _, err = svc.RecordTrack(ctx, run.ID, nil)
	assertKind(t, err, ErrValidation)
}

// ===================================================================================================
// Finalizer
// ===================================================================================================

func TestStopRunFinalizesDistanceAndTiming(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)

	coords := [][2]float64{{0, 0}, {0, 0.003}, {0.003, 0.003}, {0.003, 0.006}}
	var pts []geo.Point
	var speeds []float64
	for i, c := range coords {
		p := record(t, svc, run.ID, c[0], c[1], t0.Add(time.Duration(i)*45*time.Second+250*time.Millisecond))
		pts = append(pts, geo.Point{Latitude: p.Latitude, Longitude: p.Longitude})
		speeds = append(speeds, p.Speed)
	}

	out, err := svc.StopRun(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}

	if want := geo.PathKm(pts); math.Abs(out.Run.Distance.Float64-want) > 1e-9 {
		t.Errorf("distance = %v, want %v", out.Run.Distance.Float64, want)
	}
	if out.Run.RunTimeSeconds.Int64 != 135 {
		t.Errorf("run_time_seconds = %d, want 135", out.Run.RunTimeSeconds.Int64)
	}
	sum := 0.0
	for _, s := range speeds {
		sum += s
	}
	if want := geo.Round(sum/float64(len(speeds)), 2); out.Run.Speed.Float64 != want {
		t.Errorf("speed = %v, want %v", out.Run.Speed.Float64, want)
	}

	stored, _ := db.GetRunByID(db.GetMainDB(), run.ID)
	if stored.Distance != out.Run.Distance || stored.RunTimeSeconds != out.Run.RunTimeSeconds {
		t.Errorf("stored run %+v differs from returned %+v", stored, out.Run)
	}
}

func TestFinalizeRequiresFinishedAndIsIdempotent(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)
	record(t, svc, run.ID, 0, 0, t0)
	record(t, svc, run.ID, 0, 0.01, t0.Add(time.Minute))

	err := db.WriteToMainDB(func(tx *sql.Tx) error {
		return svc.finalizeRun(tx, run)
	})
	assertKind(t, err, ErrInvalidState)

	out, err := svc.StopRun(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	first := *out.Run

	err = db.WriteToMainDB(func(tx *sql.Tx) error {
		again, err := db.GetRunByID(tx, run.ID)
		if err != nil {
			return err
		}
		return svc.finalizeRun(tx, again)
	})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := db.GetRunByID(db.GetMainDB(), run.ID)
	if second.Distance != first.Distance || second.Speed != first.Speed || second.RunTimeSeconds != first.RunTimeSeconds {
		t.Errorf("finalize not idempotent: %+v vs %+v", first, second)
	}
}

func TestComputeTimingWithoutPositions(t *testing.T) {
	svc, db := newTestTracker(t, nil)
	a := newAthlete(t, db, "alice")
	run := startedRun(t, svc, db, a.ID)
	if _, err := svc.StopRun(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	out, err := svc.ComputeTiming(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Run.RunTimeSeconds.Valid || out.Run.Speed.Valid {
		t.Errorf("timing = %+v, want NULL", out.Run)
	}

	_, err = svc.ComputeTiming(context.Background(), 9999)
	assertKind(t, err, ErrNotFound)
}

func TestComputeTimingRequiresFinishedRun(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, svc *Service, db *database.Service, athleteID int64) int64
	}{
		{"init", func(t *testing.T, svc *Service, db *database.Service, athleteID int64) int64 {
			return newRun(t, db, athleteID).ID
		}},
		{"in_progress with positions", func(t *testing.T, svc *Service, db *database.Service, athleteID int64) int64 {
			run := startedRun(t, svc, db, athleteID)
			record(t, svc, run.ID, 0, 0, t0)
			record(t, svc, run.ID, 0.0025, 0, t0.Add(60*time.Second))
			return run.ID
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newTestTracker(t, nil)
			a := newAthlete(t, db, "alice")
			runID := tt.setup(t, svc, db, a.ID)
			before, err := db.GetRunByID(db.GetMainDB(), runID)
			if err != nil {
				t.Fatal(err)
			}

			_, err = svc.ComputeTiming(context.Background(), runID)
			assertKind(t, err, ErrInvalidState)

			after, err := db.GetRunByID(db.GetMainDB(), runID)
			if err != nil {
				t.Fatal(err)
			}
			if after.Status != before.Status {
				t.Errorf("status = %q, want %q", after.Status, before.Status)
			}
			if after.RunTimeSeconds.Valid || after.Speed.Valid || after.Distance.Valid {
				t.Errorf("derived fields written on unfinished run: %+v", after)
			}
		})
	}
}
