// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package gaps finds holes in a sequence of frame capture times.
package gaps

import (
	"time"

	"github.com/zeebo/errs"
)

// Error is the gaps error class.
var Error = errs.Class("gaps")

// DefaultTolerance widens the expected interval before a delta counts as
// a gap, absorbing normal scan jitter.
const DefaultTolerance = 1.5

// Gap is one detected hole.
type Gap struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes float64   `json:"duration_minutes"`
	ExpectedFrames  int       `json:"expected_frames"`
}

// Report is the full detection result.
type Report struct {
	CoveragePercent float64    `json:"coverage_percent"`
	GapCount        int        `json:"gap_count"`
	TotalFrames     int        `json:"total_frames"`
	ExpectedFrames  int        `json:"expected_frames"`
	RangeStart      *time.Time `json:"range_start,omitempty"`
	RangeEnd        *time.Time `json:"range_end,omitempty"`
	Gaps            []Gap      `json:"gaps"`
}

// Detect slides over capture times (which must be ascending) and reports
// every delta exceeding expected × tolerance. Empty and single-frame
// inputs yield zero gaps and zero coverage.
func Detect(times []time.Time, expected time.Duration, tolerance float64) (Report, error) {
	if expected <= 0 {
		return Report{}, Error.New("expected interval must be positive")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	report := Report{TotalFrames: len(times), Gaps: []Gap{}}
	if len(times) < 2 {
		return report, nil
	}

	start, end := times[0], times[len(times)-1]
	report.RangeStart, report.RangeEnd = &start, &end

	threshold := time.Duration(float64(expected) * tolerance)
	var gapTotal time.Duration
	for i := 1; i < len(times); i++ {
		delta := times[i].Sub(times[i-1])
		if delta <= threshold {
			continue
		}
		missing := int(delta/expected) - 1
		if missing < 1 {
			missing = 1
		}
		report.Gaps = append(report.Gaps, Gap{
			Start:           times[i-1],
			End:             times[i],
			DurationMinutes: delta.Minutes(),
			ExpectedFrames:  missing,
		})
		report.ExpectedFrames += missing
		gapTotal += delta
	}
	report.GapCount = len(report.Gaps)

	span := end.Sub(start)
	if span > 0 {
		coverage := float64(span-gapTotal) / float64(span) * 100
		if coverage < 0 {
			coverage = 0
		}
		if coverage > 100 {
			coverage = 100
		}
		report.CoveragePercent = coverage
	}
	return report, nil
}
