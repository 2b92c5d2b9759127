// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stats

import (
	"time"

	"github.com/relabs-tech/posture_monitor/internal/storage"
)

// Point is one value of a chart series.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Buckets returns n evenly spaced boundaries from start to end inclusive.
// n boundaries delimit n-1 intervals.
func Buckets(start, end time.Time, n int) []time.Time {
	if n < 2 {
		return nil
	}
	step := end.Sub(start) / time.Duration(n-1)
	bounds := make([]time.Time, n)
	for i := range bounds {
		bounds[i] = start.Add(time.Duration(i) * step)
	}
	return bounds
}

// AssignBuckets averages mapper over the records whose time falls in each
// [bounds[i], bounds[i+1]) interval. Empty intervals are 0. Labels are the
// interval start as HH:MM in the location of the boundaries.
func AssignBuckets(records []storage.Record, bounds []time.Time, mapper func(storage.Record) float64) []Point {
	if len(records) == 0 || len(bounds) < 2 {
		return []Point{}
	}

	times := make([]time.Time, len(records))
	for i, r := range records {
		times[i] = r.Time()
	}

	points := make([]Point, 0, len(bounds)-1)
	for i := 0; i < len(bounds)-1; i++ {
		lo, hi := bounds[i], bounds[i+1]

		var sum float64
		var n int
		for j, t := range times {
			if t.Before(lo) || !t.Before(hi) {
				continue
			}
			sum += mapper(records[j])
			n++
		}

		var v float64
		if n > 0 {
			v = sum / float64(n)
		}
		points = append(points, Point{Label: lo.Format("15:04"), Value: v})
	}
	return points
}

func presence(storage.Record) float64 { return 1 }

func badRate(r storage.Record) float64 {
	if r.Bad() {
		return 1
	}
	return 0
}
