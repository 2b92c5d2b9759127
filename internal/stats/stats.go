// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stats derives dashboard figures from stored posture records.
// Everything here is a pure function of the records and a reference time.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/relabs-tech/posture_monitor/internal/storage"
)

const (
	// A day keeps the streak alive while at most this share of its
	// records is bad posture.
	streakMaxBadFraction = 0.3

	maxEpisodes    = 10
	dayBucketCount = 10
)

// Episode is a span of bad posture detected in today's records.
// DurationSeconds is nil when posture had not been corrected yet.
type Episode struct {
	Start           time.Time `json:"start"`
	Label           string    `json:"label"`
	DurationSeconds *int64    `json:"durationSeconds"`
}

// Snapshot is the full statistics view over a set of records.
type Snapshot struct {
	TotalAlerts       int       `json:"totalAlerts"`
	AvgPitchDeviation float64   `json:"avgPitchDeviation"`
	AvgRollDeviation  float64   `json:"avgRollDeviation"`
	AvgDeviation      float64   `json:"avgDeviation"`
	Streak            int       `json:"streak"`
	TodayAlerts       int       `json:"todayAlerts"`
	TodayBadPct       float64   `json:"todayBadPct"`
	TodayGoodPct      float64   `json:"todayGoodPct"`
	Episodes          []Episode `json:"episodes"`
	DayPresence       []Point   `json:"dayPresence"`
	DayAlerts         []Point   `json:"dayAlerts"`
	Weekly            []Point   `json:"weekly"`
	Monthly           []Point   `json:"monthly"`
}

// Compute builds the snapshot for records (oldest first) as seen at now.
// Calendar days are taken in loc; a nil loc means now's location.
func Compute(records []storage.Record, now time.Time, loc *time.Location) Snapshot {
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)

	snap := Snapshot{
		Episodes:    []Episode{},
		DayPresence: []Point{},
		DayAlerts:   []Point{},
		Weekly:      Weekly(records, now),
		Monthly:     Monthly(records, now),
		Streak:      Streak(records, loc),
	}

	var pitchSum, rollSum float64
	for _, r := range records {
		if r.Bad() {
			snap.TotalAlerts++
		}
		pitchSum += math.Abs(r.Pitch - r.RefPitch)
		rollSum += math.Abs(r.Roll - r.RefRoll)
	}
	if n := len(records); n > 0 {
		snap.AvgPitchDeviation = pitchSum / float64(n)
		snap.AvgRollDeviation = rollSum / float64(n)
		snap.AvgDeviation = snap.AvgPitchDeviation + snap.AvgRollDeviation
	}

	today := onDay(records, now)
	for _, r := range today {
		if r.Bad() {
			snap.TodayAlerts++
		}
	}
	if len(today) > 0 {
		snap.TodayBadPct = float64(snap.TodayAlerts) / float64(len(today)) * 100
	}
	snap.TodayGoodPct = 100 - snap.TodayBadPct
	snap.Episodes = Episodes(today, loc)

	if len(today) >= 2 {
		first := today[0].Time().In(loc)
		last := today[len(today)-1].Time().In(loc)
		bounds := Buckets(first, last, dayBucketCount)
		snap.DayPresence = AssignBuckets(today, bounds, presence)
		snap.DayAlerts = AssignBuckets(today, bounds, badRate)
	}

	return snap
}

// Streak counts consecutive qualifying days walking back from the most
// recent day that has records.
func Streak(records []storage.Record, loc *time.Location) int {
	type tally struct{ total, bad int }
	days := make(map[string]*tally)
	for _, r := range records {
		key := dayKey(r.Time(), loc)
		t, ok := days[key]
		if !ok {
			t = &tally{}
			days[key] = t
		}
		t.total++
		if r.Bad() {
			t.bad++
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	streak := 0
	for i := len(keys) - 1; i >= 0; i-- {
		t := days[keys[i]]
		if float64(t.bad)/float64(t.total) > streakMaxBadFraction {
			break
		}
		streak++
	}
	return streak
}

// Episodes scans one day of records in order. An episode opens on a
// good-to-bad transition and closes at the next good record. The latest
// ten are returned, most recent first.
func Episodes(day []storage.Record, loc *time.Location) []Episode {
	episodes := []Episode{}
	for i := 1; i < len(day); i++ {
		if day[i-1].Bad() || !day[i].Bad() {
			continue
		}

		start := day[i].Time().In(loc)
		ep := Episode{Start: start, Label: start.Format("15:04")}
		for j := i + 1; j < len(day); j++ {
			if !day[j].Bad() {
				secs := int64(math.Round(day[j].Time().Sub(start).Seconds()))
				ep.DurationSeconds = &secs
				break
			}
		}
		episodes = append(episodes, ep)
	}

	if len(episodes) > maxEpisodes {
		episodes = episodes[len(episodes)-maxEpisodes:]
	}
	for i, j := 0, len(episodes)-1; i < j; i, j = i+1, j-1 {
		episodes[i], episodes[j] = episodes[j], episodes[i]
	}
	return episodes
}

// Weekly counts bad records on each of the seven days ending today,
// oldest first. Labels are short weekday names.
func Weekly(records []storage.Record, now time.Time) []Point {
	today := startOfDay(now)
	points := make([]Point, 7)
	for i := range points {
		day := today.AddDate(0, 0, i-6)
		points[i] = Point{
			Label: day.Format("Mon"),
			Value: float64(countBad(records, day, day.AddDate(0, 0, 1))),
		}
	}
	return points
}

// Monthly counts bad records in each of the four Monday-start weeks
// ending with the current one, oldest first. Labels are the Monday date.
func Monthly(records []storage.Record, now time.Time) []Point {
	monday := mondayOf(now)
	points := make([]Point, 4)
	for i := range points {
		from := monday.AddDate(0, 0, 7*(i-3))
		points[i] = Point{
			Label: from.Format("2 Jan"),
			Value: float64(countBad(records, from, from.AddDate(0, 0, 7))),
		}
	}
	return points
}

func countBad(records []storage.Record, from, to time.Time) int {
	n := 0
	for _, r := range records {
		if !r.Bad() {
			continue
		}
		t := r.Time()
		if !t.Before(from) && t.Before(to) {
			n++
		}
	}
	return n
}

func onDay(records []storage.Record, now time.Time) []storage.Record {
	from := startOfDay(now)
	to := from.AddDate(0, 0, 1)
	var day []storage.Record
	for _, r := range records {
		t := r.Time()
		if !t.Before(from) && t.Before(to) {
			day = append(day, r)
		}
	}
	return day
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func mondayOf(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
