package api

import (
	"strings"
	"time"

	"github.com/intermernet/runtracker/internal/auth"
	"github.com/intermernet/runtracker/internal/catalog"
	"github.com/intermernet/runtracker/internal/database"
)

// dateTimeLayout is the wire format of position timestamps: naive UTC with
// microseconds.
const dateTimeLayout = "2006-01-02T15:04:05.000000"

// dateTimeInputLayout reads the same naive format with an optional fraction
// of any length, so ".1" and ".123" parse as well as ".123456".
const dateTimeInputLayout = "2006-01-02T15:04:05.999999"

// parseDateTime accepts dateTimeInputLayout (read as UTC) or RFC 3339.
func parseDateTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(dateTimeInputLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func userType(u *database.User) string {
	return auth.RoleFor(u.IsStaff)
}

// UserResponse is the public profile of a user. The password hash never leaves
// the database layer.
type UserResponse struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Type       string    `json:"type"`
	DateJoined time.Time `json:"date_joined"`
}

func toUserResponse(user *database.User) UserResponse {
	return UserResponse{
		ID:         user.ID,
		Username:   user.Username,
		Email:      user.Email,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Type:       userType(user),
		DateJoined: user.DateJoined,
	}
}

// UserListItem adds the listing aggregates. Rating is null for athletes and
// for coaches nobody has rated.
type UserListItem struct {
	UserResponse
	RunsFinished int      `json:"runs_finished"`
	Rating       *float64 `json:"rating"`
}

func toUserList(users []database.UserSummary) []UserListItem {
	list := make([]UserListItem, len(users))
	for i := range users {
		u := &users[i]
		list[i] = UserListItem{
			UserResponse: toUserResponse(&u.User),
			RunsFinished: u.RunsFinished,
		}
		if u.Rating.Valid {
			rating := u.Rating.Float64
			list[i].Rating = &rating
		}
	}
	return list
}

// UserDetailResponse is a profile with its relations. Coach is set for
// athletes, Athletes for coaches.
type UserDetailResponse struct {
	UserResponse
	Coach    *int64         `json:"coach,omitempty"`
	Athletes []int64        `json:"athletes,omitempty"`
	Items    []ItemResponse `json:"items"`
}

// RunResponse is a run. The derived fields are null until computed.
type RunResponse struct {
	ID             int64      `json:"id"`
	Athlete        int64      `json:"athlete"`
	Status         string     `json:"status"`
	Comment        string     `json:"comment"`
	CreatedAt      time.Time  `json:"created_at"`
	StartTime      *time.Time `json:"start_time"`
	FinishTime     *time.Time `json:"finish_time"`
	Distance       *float64   `json:"distance"`
	Speed          *float64   `json:"speed"`
	RunTimeSeconds *int64     `json:"run_time_seconds"`
}

func toRunResponse(run *database.Run) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		Athlete:   run.AthleteID,
		Status:    run.Status,
		Comment:   run.Comment,
		CreatedAt: run.CreatedAt,
	}
	if run.StartTime.Valid {
		resp.StartTime = &run.StartTime.Time
	}
	if run.FinishTime.Valid {
		resp.FinishTime = &run.FinishTime.Time
	}
	if run.Distance.Valid {
		resp.Distance = &run.Distance.Float64
	}
	if run.Speed.Valid {
		resp.Speed = &run.Speed.Float64
	}
	if run.RunTimeSeconds.Valid {
		resp.RunTimeSeconds = &run.RunTimeSeconds.Int64
	}
	return resp
}

func toRunResponseList(runs []database.Run) []RunResponse {
	list := make([]RunResponse, len(runs))
	for i := range runs {
		list[i] = toRunResponse(&runs[i])
	}
	return list
}

// PositionResponse is a stored sample. DateTime uses dateTimeLayout.
type PositionResponse struct {
	ID        int64   `json:"id"`
	Run       int64   `json:"run"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	DateTime  string  `json:"date_time"`
	Speed     float64 `json:"speed"`
	Distance  float64 `json:"distance"`
}

func toPositionResponse(p *database.Position) PositionResponse {
	return PositionResponse{
		ID:        p.ID,
		Run:       p.RunID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		DateTime:  p.DateTime.UTC().Format(dateTimeLayout),
		Speed:     p.Speed,
		Distance:  p.Distance,
	}
}

func toPositionResponseList(positions []database.Position) []PositionResponse {
	list := make([]PositionResponse, len(positions))
	for i := range positions {
		list[i] = toPositionResponse(&positions[i])
	}
	return list
}

// ItemResponse is a collectible item from the catalog.
type ItemResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	UID       string  `json:"uid"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Picture   string  `json:"picture"`
	Value     int     `json:"value"`
}

func toItemResponseList(items []database.CollectibleItem) []ItemResponse {
	list := make([]ItemResponse, len(items))
	for i, it := range items {
		list[i] = ItemResponse{
			ID:        it.ID,
			Name:      it.Name,
			UID:       it.UID,
			Latitude:  it.Latitude,
			Longitude: it.Longitude,
			Picture:   it.Picture,
			Value:     it.Value,
		}
	}
	return list
}

// ChallengeResponse is one award.
type ChallengeResponse struct {
	FullName string `json:"full_name"`
	Athlete  int64  `json:"athlete"`
}

// ChallengeSummary groups holders under a challenge name.
type ChallengeSummary struct {
	NameToDisplay string            `json:"name_to_display"`
	Athletes      []ChallengeHolder `json:"athletes"`
}

type ChallengeHolder struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// toChallengeSummary groups holders, which arrive ordered by challenge name.
func toChallengeSummary(holders []database.ChallengeHolder) []ChallengeSummary {
	summary := []ChallengeSummary{}
	for _, h := range holders {
		if n := len(summary); n == 0 || summary[n-1].NameToDisplay != h.FullName {
			summary = append(summary, ChallengeSummary{NameToDisplay: h.FullName, Athletes: []ChallengeHolder{}})
		}
		last := &summary[len(summary)-1]
		last.Athletes = append(last.Athletes, ChallengeHolder{
			ID:       h.AthleteID,
			FullName: strings.TrimSpace(h.FirstName + " " + h.LastName),
		})
	}
	return summary
}

// AthleteInfoResponse holds goals and weight. Weight is null until set.
type AthleteInfoResponse struct {
	UserID int64  `json:"user_id"`
	Goals  string `json:"goals"`
	Weight *int64 `json:"weight"`
}

func toAthleteInfoResponse(info *database.AthleteInfo) AthleteInfoResponse {
	resp := AthleteInfoResponse{UserID: info.UserID, Goals: info.Goals}
	if info.Weight.Valid {
		resp.Weight = &info.Weight.Int64
	}
	return resp
}

// AnalyticsResponse reports the leaders among a coach's athletes. Each user
// and value pair is null when no athlete qualifies.
type AnalyticsResponse struct {
	LongestRunUser  *int64   `json:"longest_run_user"`
	LongestRunValue *float64 `json:"longest_run_value"`
	TotalRunUser    *int64   `json:"total_run_user"`
	TotalRunValue   *float64 `json:"total_run_value"`
	SpeedAvgUser    *int64   `json:"speed_avg_user"`
	SpeedAvgValue   *float64 `json:"speed_avg_value"`
}

func statFields(stat *database.AthleteStat) (*int64, *float64) {
	if stat == nil {
		return nil, nil
	}
	return &stat.AthleteID, &stat.Value
}

// UploadResponse is the outcome of a catalog import.
type UploadResponse struct {
	Created     []ItemResponse       `json:"created"`
	InvalidRows []catalog.InvalidRow `json:"invalid_rows"`
}
