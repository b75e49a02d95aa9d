// Package trend computes time-bucketed compliance trends and per-control
// pass-rate deltas over a date range.
package trend

import (
	"context"
	"sort"
	"time"

	"github.com/complylens/complylens/internal/evidence"
	"github.com/complylens/complylens/internal/registry"
)

const (
	// deltaThreshold is the percentage-point change beyond which a control
	// counts as improved or declined rather than stable.
	deltaThreshold = 5.0

	// minObservationsPerHalf is the eligibility floor for delta computation.
	// Controls sparser than this in either half are excluded entirely, not
	// reported as stable.
	minObservationsPerHalf = 2
)

type evidenceFinder interface {
	FindAttestations(ctx context.Context, q evidence.Query) (evidence.Result, error)
}

// DataPoint is one sampled day bucket, dated at midnight UTC.
type DataPoint struct {
	Date    time.Time `json:"date"`
	Score   float64   `json:"score"`
	Passing int       `json:"passing"`
	Failing int       `json:"failing"`
	Total   int       `json:"total"`
}

// Change directions.
const (
	DirectionImproved = "improved"
	DirectionDeclined = "declined"
	DirectionStable   = "stable"
)

// ControlChange is the early-half versus late-half pass-rate movement of one
// control path.
type ControlChange struct {
	ControlPath string  `json:"controlPath"`
	EarlyRate   float64 `json:"earlyRate"`
	LateRate    float64 `json:"lateRate"`
	Delta       float64 `json:"delta"` // percentage points
	Direction   string  `json:"direction"`
}

// Report is the sampler output.
type Report struct {
	DataPoints []DataPoint     `json:"dataPoints"`
	Improved   []ControlChange `json:"improved"`
	Declined   []ControlChange `json:"declined"`
	Stable     []ControlChange `json:"stable"`
}

// Sampler down-samples evidence across a date range.
type Sampler struct {
	Evidence evidenceFinder
}

func New(ev evidenceFinder) *Sampler {
	return &Sampler{Evidence: ev}
}

// Sample fetches attestations for identifier across [from, to], buckets them
// by calendar day, down-samples to at most maxDataPoints, and classifies
// per-control movement across the range midpoint.
func (s *Sampler) Sample(ctx context.Context, identifier string, from, to time.Time, maxDataPoints int) (Report, error) {
	result, err := s.Evidence.FindAttestations(ctx, evidence.Query{
		Identifier: identifier,
		Since:      from,
		Until:      to,
	})
	if err != nil {
		return Report{}, err
	}

	report := Report{
		DataPoints: downsample(bucketByDay(result.Attestations), maxDataPoints),
	}
	report.Improved, report.Declined, report.Stable = classifyControls(result.Attestations, from, to)
	return report, nil
}

func bucketByDay(attestations []registry.Attestation) []DataPoint {
	buckets := make(map[time.Time]*DataPoint)
	for _, att := range attestations {
		if att.Timestamp.IsZero() {
			continue
		}
		day := att.Timestamp.UTC().Truncate(24 * time.Hour)
		point, ok := buckets[day]
		if !ok {
			point = &DataPoint{Date: day}
			buckets[day] = point
		}
		point.Total++
		switch att.Result {
		case registry.ResultPass:
			point.Passing++
		case registry.ResultFail:
			point.Failing++
		}
	}

	out := make([]DataPoint, 0, len(buckets))
	for _, point := range buckets {
		if point.Total > 0 {
			point.Score = float64(point.Passing) / float64(point.Total)
		}
		out = append(out, *point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// downsample keeps every k-th bucket where k = ceil(len/max), preserving
// ascending order.
func downsample(points []DataPoint, maxDataPoints int) []DataPoint {
	if maxDataPoints <= 0 || len(points) <= maxDataPoints {
		return points
	}
	k := (len(points) + maxDataPoints - 1) / maxDataPoints
	out := make([]DataPoint, 0, maxDataPoints)
	for i := 0; i < len(points); i += k {
		out = append(out, points[i])
	}
	return out
}

type halfStats struct {
	earlyPass, earlyTotal int
	latePass, lateTotal   int
}

func classifyControls(attestations []registry.Attestation, from, to time.Time) (improved, declined, stable []ControlChange) {
	midpoint := from.Add(to.Sub(from) / 2)

	stats := make(map[string]*halfStats)
	for _, att := range attestations {
		if att.ControlPath == "" || att.Timestamp.IsZero() {
			continue
		}
		st, ok := stats[att.ControlPath]
		if !ok {
			st = &halfStats{}
			stats[att.ControlPath] = st
		}
		pass := att.Result == registry.ResultPass
		if att.Timestamp.Before(midpoint) {
			st.earlyTotal++
			if pass {
				st.earlyPass++
			}
		} else {
			st.lateTotal++
			if pass {
				st.latePass++
			}
		}
	}

	paths := make([]string, 0, len(stats))
	for path := range stats {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		st := stats[path]
		if st.earlyTotal < minObservationsPerHalf || st.lateTotal < minObservationsPerHalf {
			continue
		}
		change := ControlChange{
			ControlPath: path,
			EarlyRate:   float64(st.earlyPass) / float64(st.earlyTotal),
			LateRate:    float64(st.latePass) / float64(st.lateTotal),
		}
		change.Delta = (change.LateRate - change.EarlyRate) * 100
		switch {
		case change.Delta > deltaThreshold:
			change.Direction = DirectionImproved
			improved = append(improved, change)
		case change.Delta < -deltaThreshold:
			change.Direction = DirectionDeclined
			declined = append(declined, change)
		default:
			change.Direction = DirectionStable
			stable = append(stable, change)
		}
	}
	return improved, declined, stable
}
