package gpx

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
)

// ErrEmptyTrack is returned when a file parses but holds no track points.
var ErrEmptyTrack = errors.New("gpx file contains no track points")

// TrackPoint is a single timestamped fix read from or written to a GPX track.
type TrackPoint struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseTrack reads every track point from a GPX document, across all tracks
// and segments. Every point must carry a timestamp since speed is derived
// from it.
func ParseTrack(data []byte) ([]TrackPoint, error) {
	gpxData, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	var points []TrackPoint
	for _, track := range gpxData.Tracks {
		for _, segment := range track.Segments {
			for _, point := range segment.Points {
				if point.Timestamp.IsZero() {
					return nil, fmt.Errorf("track point %d has no timestamp", len(points)+1)
				}
				points = append(points, TrackPoint{
					Lat:       point.Latitude,
					Lon:       point.Longitude,
					Timestamp: point.Timestamp.UTC(),
				})
			}
		}
	}
	if len(points) == 0 {
		return nil, ErrEmptyTrack
	}
	return points, nil
}

// BuildTrack renders points as a single-segment GPX 1.1 track, ordered by time.
func BuildTrack(name string, points []TrackPoint) ([]byte, error) {
	ordered := make([]TrackPoint, len(points))
	copy(ordered, points)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	segment := gpx.GPXTrackSegment{}
	for _, p := range ordered {
		pt := gpx.GPXPoint{Timestamp: p.Timestamp}
		pt.Latitude = p.Lat
		pt.Longitude = p.Lon
		segment.Points = append(segment.Points, pt)
	}

	doc := &gpx.GPX{
		Creator: "runtracker",
		Name:    name,
		Tracks: []gpx.GPXTrack{{
			Name:     name,
			Segments: []gpx.GPXTrackSegment{segment},
		}},
	}
	out, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encode gpx: %w", err)
	}
	return out, nil
}
