package trend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/complylens/complylens/internal/evidence"
	"github.com/complylens/complylens/internal/registry"
)

type finderStub struct {
	result evidence.Result
	err    error
	query  evidence.Query
}

func (f *finderStub) FindAttestations(_ context.Context, q evidence.Query) (evidence.Result, error) {
	f.query = q
	return f.result, f.err
}

func day(offset int) time.Time {
	return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func att(offset int, result, path string) registry.Attestation {
	return registry.Attestation{
		UUID:        "n",
		Result:      result,
		ControlPath: path,
		Timestamp:   day(offset).Add(10 * time.Hour),
	}
}

func TestSamplePassesDateRangeToEvidence(t *testing.T) {
	stub := &finderStub{}
	from, to := day(0), day(30)

	if _, err := New(stub).Sample(context.Background(), "demo-repo", from, to, 10); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !stub.query.Since.Equal(from) || !stub.query.Until.Equal(to) {
		t.Fatalf("query = %+v", stub.query)
	}
	if stub.query.Identifier != "demo-repo" {
		t.Fatalf("Identifier = %q", stub.query.Identifier)
	}
}

func TestSamplePropagatesResolutionError(t *testing.T) {
	stub := &finderStub{err: errors.New("catalog unavailable")}
	if _, err := New(stub).Sample(context.Background(), "demo-repo", day(0), day(7), 10); err == nil {
		t.Fatal("want error")
	}
}

func TestSampleBucketsByDay(t *testing.T) {
	stub := &finderStub{result: evidence.Result{Attestations: []registry.Attestation{
		att(0, "pass", "checks/a"),
		att(0, "fail", "checks/a"),
		att(2, "pass", "checks/a"),
	}}}

	report, err := New(stub).Sample(context.Background(), "demo-repo", day(0), day(7), 10)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(report.DataPoints) != 2 {
		t.Fatalf("points = %+v", report.DataPoints)
	}
	first := report.DataPoints[0]
	if !first.Date.Equal(day(0)) || first.Passing != 1 || first.Failing != 1 || first.Score != 0.5 {
		t.Fatalf("first = %+v", first)
	}
	second := report.DataPoints[1]
	if !second.Date.Equal(day(2)) || second.Score != 1.0 {
		t.Fatalf("second = %+v", second)
	}
}

func TestSampleDownsamplesLongRange(t *testing.T) {
	var atts []registry.Attestation
	for i := 0; i < 90; i++ {
		atts = append(atts, att(i, "pass", "checks/a"))
	}
	stub := &finderStub{result: evidence.Result{Attestations: atts}}

	report, err := New(stub).Sample(context.Background(), "demo-repo", day(0), day(90), 30)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(report.DataPoints) > 30 {
		t.Fatalf("points = %d, want at most 30", len(report.DataPoints))
	}
	for i := 1; i < len(report.DataPoints); i++ {
		if !report.DataPoints[i-1].Date.Before(report.DataPoints[i].Date) {
			t.Fatalf("dates not strictly ascending at %d", i)
		}
	}
}

func TestSampleShortRangeKeepsEveryBucket(t *testing.T) {
	stub := &finderStub{result: evidence.Result{Attestations: []registry.Attestation{
		att(0, "pass", "checks/a"),
		att(1, "pass", "checks/a"),
		att(2, "pass", "checks/a"),
	}}}

	report, err := New(stub).Sample(context.Background(), "demo-repo", day(0), day(3), 30)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(report.DataPoints) != 3 {
		t.Fatalf("points = %d", len(report.DataPoints))
	}
}

func TestSampleClassifiesControlMovement(t *testing.T) {
	// 10-day range, midpoint at day 5. "checks/up" fails early and passes
	// late, "checks/down" the reverse, "checks/flat" holds steady.
	atts := []registry.Attestation{
		att(0, "fail", "checks/up"), att(1, "fail", "checks/up"),
		att(6, "pass", "checks/up"), att(7, "pass", "checks/up"),

		att(0, "pass", "checks/down"), att(1, "pass", "checks/down"),
		att(6, "fail", "checks/down"), att(7, "fail", "checks/down"),

		att(0, "pass", "checks/flat"), att(1, "pass", "checks/flat"),
		att(6, "pass", "checks/flat"), att(7, "pass", "checks/flat"),
	}
	stub := &finderStub{result: evidence.Result{Attestations: atts}}

	report, err := New(stub).Sample(context.Background(), "demo-repo", day(0), day(10), 30)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(report.Improved) != 1 || report.Improved[0].ControlPath != "checks/up" {
		t.Fatalf("improved = %+v", report.Improved)
	}
	if report.Improved[0].Delta != 100 {
		t.Fatalf("delta = %v", report.Improved[0].Delta)
	}
	if len(report.Declined) != 1 || report.Declined[0].ControlPath != "checks/down" {
		t.Fatalf("declined = %+v", report.Declined)
	}
	if len(report.Stable) != 1 || report.Stable[0].ControlPath != "checks/flat" {
		t.Fatalf("stable = %+v", report.Stable)
	}
}

func TestSampleExcludesSparseControls(t *testing.T) {
	// One observation per half is below the eligibility floor; the control
	// must not appear in any bucket, stable included.
	atts := []registry.Attestation{
		att(0, "fail", "checks/sparse"),
		att(8, "pass", "checks/sparse"),
	}
	stub := &finderStub{result: evidence.Result{Attestations: atts}}

	report, err := New(stub).Sample(context.Background(), "demo-repo", day(0), day(10), 30)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(report.Improved)+len(report.Declined)+len(report.Stable) != 0 {
		t.Fatalf("sparse control classified: %+v", report)
	}
}
