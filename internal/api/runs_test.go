package api

import (
	"bytes"
	"database/sql"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/gpx"
	"github.com/intermernet/runtracker/internal/tracking"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func sqlInt(v int64) sql.NullInt64       { return sql.NullInt64{Int64: v, Valid: true} }
func sqlFloat(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

// finishedRun stores a finished run with the given totals, bypassing the tracker.
func finishedRun(t *testing.T, db *database.Service, athleteID int64, km, speed float64) {
	t.Helper()
	conn := db.GetMainDB()
	run, err := db.CreateRun(conn, athleteID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkRunStarted(conn, run.ID, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkRunFinished(conn, run.ID, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateRunDistance(conn, run.ID, km); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateRunTiming(conn, run.ID, sqlInt(3600), sqlFloat(speed)); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) createRun(token string) RunResponse {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/runs", token, map[string]string{"comment": "Morning run"})
	expectStatus(e.t, rec, http.StatusCreated)
	var body struct {
		Run RunResponse `json:"run"`
	}
	decode(e.t, rec, &body)
	return body.Run
}

func positionPayload(runID int64, lat, lon float64, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"run":       runID,
		"latitude":  lat,
		"longitude": lon,
		"date_time": at.Format(dateTimeLayout),
	}
}

type positionCreated struct {
	Position  PositionResponse `json:"position"`
	Collected []ItemResponse   `json:"collected_items"`
}

// ============================================================================
// Run lifecycle
// ============================================================================

func TestRunLifecycle(t *testing.T) {
	e := newTestEnv(t)
	athlete, token := e.user("quinn", false)

	run := e.createRun(token)
	if run.Status != database.RunStatusInit || run.Athlete != athlete.ID || run.Distance != nil {
		t.Fatalf("new run = %+v", run)
	}
	runPath := "/api/v1/runs/" + itoa(run.ID)

	// Positions are refused until the run starts.
	rec := e.do(http.MethodPost, "/api/v1/positions", token, positionPayload(run.ID, 55.7558, 37.6173, t0))
	expectStatus(t, rec, http.StatusBadRequest)

	rec = e.do(http.MethodPost, runPath+"/start", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var status struct {
		Status     string   `json:"status"`
		Challenges []string `json:"challenges"`
	}
	decode(t, rec, &status)
	if status.Status != database.RunStatusInProgress {
		t.Errorf("status after start = %q", status.Status)
	}
	expectStatus(t, e.do(http.MethodPost, runPath+"/start", token, nil), http.StatusBadRequest)

	// Three samples 0.01 degrees of latitude apart, 150 s apart.
	var last positionCreated
	for i := 0; i < 3; i++ {
		rec = e.do(http.MethodPost, "/api/v1/positions", token,
			positionPayload(run.ID, 55.7558+0.01*float64(i), 37.6173, t0.Add(time.Duration(i)*150*time.Second)))
		expectStatus(t, rec, http.StatusCreated)
		decode(t, rec, &last)
	}
	if last.Position.Distance < 2.2 || last.Position.Distance > 2.25 {
		t.Errorf("cumulative distance = %v, want ~2.22 km", last.Position.Distance)
	}
	if last.Position.Speed < 7.3 || last.Position.Speed > 7.5 {
		t.Errorf("speed = %v, want ~7.4 m/s", last.Position.Speed)
	}
	if last.Position.DateTime != "2024-06-01T08:05:00.000000" {
		t.Errorf("date_time = %q", last.Position.DateTime)
	}

	rec = e.do(http.MethodPost, runPath+"/stop", token, nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &status)
	if status.Status != database.RunStatusFinished {
		t.Errorf("status after stop = %q", status.Status)
	}
	if len(status.Challenges) != 1 || status.Challenges[0] != tracking.ChallengeTwoKmFast {
		t.Errorf("awarded = %v, want the 2 km challenge", status.Challenges)
	}
	expectStatus(t, e.do(http.MethodPost, runPath+"/stop", token, nil), http.StatusBadRequest)

	rec = e.do(http.MethodGet, runPath, token, nil)
	expectStatus(t, rec, http.StatusOK)
	var got struct {
		Run RunResponse `json:"run"`
	}
	decode(t, rec, &got)
	if got.Run.Distance == nil || *got.Run.Distance < 2.2 || *got.Run.Distance > 2.25 {
		t.Errorf("finished distance = %v", got.Run.Distance)
	}
	if got.Run.RunTimeSeconds == nil || *got.Run.RunTimeSeconds != 300 {
		t.Errorf("run time = %v, want 300", got.Run.RunTimeSeconds)
	}
	if got.Run.StartTime == nil || got.Run.FinishTime == nil {
		t.Error("start/finish time not set")
	}

	// Finished runs take no more samples.
	rec = e.do(http.MethodPost, "/api/v1/positions", token, positionPayload(run.ID, 55.8, 37.6, t0.Add(time.Hour)))
	expectStatus(t, rec, http.StatusBadRequest)

	// Recomputing timing is idempotent and awards nothing new.
	rec = e.do(http.MethodPost, runPath+"/timing", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var timing struct {
		Run        RunResponse `json:"run"`
		Challenges []string    `json:"challenges"`
	}
	decode(t, rec, &timing)
	if len(timing.Challenges) != 0 || timing.Run.RunTimeSeconds == nil || *timing.Run.RunTimeSeconds != 300 {
		t.Errorf("timing = %+v", timing)
	}

	// Reporting endpoints.
	rec = e.do(http.MethodGet, "/api/v1/positions?run="+itoa(run.ID), token, nil)
	expectStatus(t, rec, http.StatusOK)
	var positions struct {
		Positions []PositionResponse `json:"positions"`
	}
	decode(t, rec, &positions)
	if len(positions.Positions) != 3 || positions.Positions[0].Distance != 0 {
		t.Errorf("positions = %+v", positions.Positions)
	}

	rec = e.do(http.MethodGet, "/api/v1/challenges?athlete="+itoa(athlete.ID), token, nil)
	expectStatus(t, rec, http.StatusOK)
	var challenges struct {
		Challenges []ChallengeResponse `json:"challenges"`
	}
	decode(t, rec, &challenges)
	if len(challenges.Challenges) != 1 || challenges.Challenges[0].FullName != tracking.ChallengeTwoKmFast {
		t.Errorf("challenges = %+v", challenges.Challenges)
	}

	rec = e.do(http.MethodGet, "/api/v1/challenges_summary", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var summary struct {
		Challenges []ChallengeSummary `json:"challenges"`
	}
	decode(t, rec, &summary)
	if len(summary.Challenges) != 1 || len(summary.Challenges[0].Athletes) != 1 ||
		summary.Challenges[0].Athletes[0].FullName != "Quinn Runner" {
		t.Errorf("summary = %+v", summary.Challenges)
	}

	rec = e.do(http.MethodGet, "/api/v1/runs?status=finished&athlete="+itoa(athlete.ID), token, nil)
	expectStatus(t, rec, http.StatusOK)
	var runs struct {
		Runs []RunResponse `json:"runs"`
	}
	decode(t, rec, &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].ID != run.ID {
		t.Errorf("finished runs = %+v", runs.Runs)
	}
}

func TestRunTransitionErrors(t *testing.T) {
	e := newTestEnv(t)
	_, owner := e.user("rita", false)
	_, stranger := e.user("sam", false)
	_, coach := e.user("tess", true)

	run := e.createRun(owner)
	runPath := "/api/v1/runs/" + itoa(run.ID)

	expectStatus(t, e.do(http.MethodPost, runPath+"/start", stranger, nil), http.StatusForbidden)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/runs/999999/start", owner, nil), http.StatusNotFound)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/runs/abc/start", owner, nil), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, runPath+"/stop", owner, nil), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/runs", coach, nil), http.StatusForbidden)
	expectStatus(t, e.do(http.MethodGet, "/api/v1/runs?status=paused", owner, nil), http.StatusBadRequest)
}

func TestComputeTimingWithoutPositions(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.user("uma", false)
	run := e.createRun(token)
	runPath := "/api/v1/runs/" + itoa(run.ID)

	expectStatus(t, e.do(http.MethodPost, runPath+"/timing", token, nil), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, runPath+"/start", token, nil), http.StatusOK)
	expectStatus(t, e.do(http.MethodPost, runPath+"/timing", token, nil), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, runPath+"/stop", token, nil), http.StatusOK)

	rec := e.do(http.MethodPost, runPath+"/timing", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var body struct {
		Run RunResponse `json:"run"`
	}
	decode(t, rec, &body)
	if body.Run.RunTimeSeconds != nil || body.Run.Speed != nil {
		t.Errorf("timing without positions = %+v", body.Run)
	}
}

func TestComputeTimingRejectsUnfinishedRun(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.user("uli", false)
	run := e.createRun(token)
	runPath := "/api/v1/runs/" + itoa(run.ID)
	expectStatus(t, e.do(http.MethodPost, runPath+"/start", token, nil), http.StatusOK)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/positions", token, positionPayload(run.ID, 0, 0, t0)), http.StatusCreated)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/positions", token, positionPayload(run.ID, 0.0025, 0, t0.Add(60*time.Second))), http.StatusCreated)

	rec := e.do(http.MethodPost, runPath+"/timing", token, nil)
	expectStatus(t, rec, http.StatusBadRequest)
	var eb errorBody
	decode(t, rec, &eb)
	if eb.Error != "run must be finished to compute timing" {
		t.Errorf("error = %q", eb.Error)
	}

	stored, err := e.db.GetRunByID(e.db.GetMainDB(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != "in_progress" || stored.RunTimeSeconds.Valid || stored.Speed.Valid {
		t.Errorf("unfinished run after timing = %+v", stored)
	}
}

// ============================================================================
// Positions
// ============================================================================

func TestCreatePositionValidation(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.user("vera", false)
	_, stranger := e.user("walt", false)
	run := e.createRun(token)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/runs/"+itoa(run.ID)+"/start", token, nil), http.StatusOK)

	tests := []struct {
		name    string
		token   string
		payload interface{}
		status  int
	}{
		{"missing latitude", token, map[string]interface{}{"run": run.ID, "longitude": 10.0, "date_time": "2024-06-01T08:00:00.000000"}, http.StatusBadRequest},
		{"bad date_time", token, map[string]interface{}{"run": run.ID, "latitude": 1.0, "longitude": 1.0, "date_time": "yesterday"}, http.StatusBadRequest},
		{"latitude out of range", token, positionPayload(run.ID, 91, 0, t0), http.StatusBadRequest},
		{"longitude out of range", token, positionPayload(run.ID, 0, -181, t0), http.StatusBadRequest},
		{"unknown run", token, positionPayload(424242, 1, 1, t0), http.StatusNotFound},
		{"someone else's run", stranger, positionPayload(run.ID, 1, 1, t0), http.StatusForbidden},
		{"zero coordinates are valid", token, positionPayload(run.ID, 0, 0, t0), http.StatusCreated},
		{"rfc3339 accepted", token, map[string]interface{}{"run": run.ID, "latitude": 0.001, "longitude": 0.0, "date_time": "2024-06-01T10:00:10+02:00"}, http.StatusCreated},
		{"one fraction digit", token, map[string]interface{}{"run": run.ID, "latitude": 0.002, "longitude": 0.0, "date_time": "2024-06-01T08:00:20.1"}, http.StatusCreated},
		{"three fraction digits", token, map[string]interface{}{"run": run.ID, "latitude": 0.003, "longitude": 0.0, "date_time": "2024-06-01T08:00:30.123"}, http.StatusCreated},
		{"no fraction", token, map[string]interface{}{"run": run.ID, "latitude": 0.004, "longitude": 0.0, "date_time": "2024-06-01T08:00:40"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.do(http.MethodPost, "/api/v1/positions", tt.token, tt.payload), tt.status)
		})
	}

	expectStatus(t, e.do(http.MethodGet, "/api/v1/positions", token, nil), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodGet, "/api/v1/positions?run=424242", token, nil), http.StatusNotFound)
}

// ============================================================================
// GPX
// ============================================================================

func multipartFile(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestGpxImportExport(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.user("xena", false)
	run := e.createRun(token)
	runPath := "/api/v1/runs/" + itoa(run.ID)

	track, err := gpx.BuildTrack("import", []gpx.TrackPoint{
		{Lat: 48.8566, Lon: 2.3522, Timestamp: t0},
		{Lat: 48.8576, Lon: 2.3522, Timestamp: t0.Add(30 * time.Second)},
		{Lat: 48.8586, Lon: 2.3522, Timestamp: t0.Add(60 * time.Second)},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Import needs an in-progress run.
	body, ct := multipartFile(t, "gpxFile", "run.gpx", track)
	expectStatus(t, e.doRaw(http.MethodPost, runPath+"/gpx", token, ct, body), http.StatusBadRequest)

	expectStatus(t, e.do(http.MethodPost, runPath+"/start", token, nil), http.StatusOK)

	body, ct = multipartFile(t, "gpxFile", "broken.gpx", []byte("<gpx><trk>"))
	expectStatus(t, e.doRaw(http.MethodPost, runPath+"/gpx", token, ct, body), http.StatusBadRequest)

	body, ct = multipartFile(t, "gpxFile", "run.gpx", track)
	rec := e.doRaw(http.MethodPost, runPath+"/gpx", token, ct, body)
	expectStatus(t, rec, http.StatusCreated)
	var imported struct {
		Positions int `json:"positions"`
	}
	decode(t, rec, &imported)
	if imported.Positions != 3 {
		t.Errorf("imported %d positions, want 3", imported.Positions)
	}

	rec = e.do(http.MethodGet, runPath+"/gpx", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/gpx+xml" {
		t.Errorf("content type = %q", ct)
	}
	points, err := gpx.ParseTrack(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("exported track does not parse: %v", err)
	}
	if len(points) != 3 || !points[2].Timestamp.Equal(t0.Add(60*time.Second)) {
		t.Errorf("exported points = %+v", points)
	}

	empty := e.createRun(token)
	expectStatus(t, e.do(http.MethodGet, "/api/v1/runs/"+itoa(empty.ID)+"/gpx", token, nil), http.StatusNotFound)
}

// ============================================================================
// Catalog upload & item pickup
// ============================================================================

func catalogWorkbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		r := row
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUploadCatalogAndCollect(t *testing.T) {
	e := newTestEnv(t)
	_, coach := e.user("yuri", true)
	_, athlete := e.user("zoe", false)

	xlsx := catalogWorkbook(t, [][]interface{}{
		{"name", "uid", "value", "latitude", "longitude", "picture"},
		{"Red Square coin", "coin-1", "10", "55.7539", "37.6208", "https://example.com/coin.png"},
		{"Broken", "bad-1", "1", "123", "0", "https://example.com/x.png"},
	})

	body, ct := multipartFile(t, "file", "items.xlsx", xlsx)
	expectStatus(t, e.doRaw(http.MethodPost, "/api/v1/upload_file", athlete, ct, body), http.StatusForbidden)

	body, ct = multipartFile(t, "file", "items.csv", []byte("name,uid\n"))
	expectStatus(t, e.doRaw(http.MethodPost, "/api/v1/upload_file", coach, ct, body), http.StatusBadRequest)

	body, ct = multipartFile(t, "file", "items.xlsx", xlsx)
	rec := e.doRaw(http.MethodPost, "/api/v1/upload_file", coach, ct, body)
	expectStatus(t, rec, http.StatusOK)
	var report UploadResponse
	decode(t, rec, &report)
	if len(report.Created) != 1 || len(report.InvalidRows) != 1 || report.InvalidRows[0].Row != 3 {
		t.Fatalf("report = %+v", report)
	}

	rec = e.do(http.MethodGet, "/api/v1/collectible_item", athlete, nil)
	expectStatus(t, rec, http.StatusOK)
	var items struct {
		Items []ItemResponse `json:"items"`
	}
	decode(t, rec, &items)
	if len(items.Items) != 1 || items.Items[0].UID != "coin-1" {
		t.Fatalf("items = %+v", items.Items)
	}

	// A sample about 50 m away picks the item up exactly once.
	run := e.createRun(athlete)
	expectStatus(t, e.do(http.MethodPost, "/api/v1/runs/"+itoa(run.ID)+"/start", athlete, nil), http.StatusOK)

	rec = e.do(http.MethodPost, "/api/v1/positions", athlete, positionPayload(run.ID, 55.7543, 37.6208, t0))
	expectStatus(t, rec, http.StatusCreated)
	var created positionCreated
	decode(t, rec, &created)
	if len(created.Collected) != 1 || created.Collected[0].UID != "coin-1" {
		t.Errorf("collected = %+v", created.Collected)
	}

	rec = e.do(http.MethodPost, "/api/v1/positions", athlete, positionPayload(run.ID, 55.7544, 37.6208, t0.Add(10*time.Second)))
	expectStatus(t, rec, http.StatusCreated)
	created = positionCreated{}
	decode(t, rec, &created)
	if len(created.Collected) != 0 {
		t.Errorf("item collected twice: %+v", created.Collected)
	}
}
