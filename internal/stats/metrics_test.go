package stats

import (
	"testing"
	"time"

	"github.com/qqringman/Degrade/internal/domain"
)

func TestOverallPercentage(t *testing.T) {
	cases := []struct {
		degrade, resolved int
		want              float64
	}{
		{15, 50, 30},
		{3, 12, 25},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{5, 0, 0},
		{0, 10, 0},
	}
	for _, c := range cases {
		if got := OverallPercentage(c.degrade, c.resolved); got != c.want {
			t.Fatalf("OverallPercentage(%d, %d) = %v, want %v", c.degrade, c.resolved, got, c.want)
		}
	}
}

func TestWeeklyPercentagesUnion(t *testing.T) {
	degrade := []domain.Issue{
		{Key: "D-1", Resolved: ts(t, "2025-01-01T10:00:00Z")},
		{Key: "D-2", Resolved: ts(t, "2025-01-08T10:00:00Z")},
	}
	resolved := []domain.Issue{
		{Key: "R-1", Resolved: ts(t, "2025-01-02T10:00:00Z")},
		{Key: "R-2", Resolved: ts(t, "2025-01-03T10:00:00Z")},
		{Key: "R-3", Resolved: ts(t, "2025-01-16T10:00:00Z")},
	}
	got := WeeklyPercentages(degrade, resolved, ByResolved)
	if len(got) != 3 {
		t.Fatalf("got %d weeks, want 3: %+v", len(got), got)
	}
	w1 := got[0]
	if w1.Week != "2025-W01" || w1.DegradeCount != 1 || w1.ResolvedCount != 2 || w1.Percentage != 50 {
		t.Fatalf("W01 = %+v", w1)
	}
	if want := time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC); !w1.WeekStart.Equal(want) {
		t.Fatalf("W01 start = %v, want %v", w1.WeekStart, want)
	}
	if want := time.Date(2025, 1, 5, 23, 59, 59, 0, time.UTC); !w1.WeekEnd.Equal(want) {
		t.Fatalf("W01 end = %v, want %v", w1.WeekEnd, want)
	}
	w2 := got[1]
	if w2.Week != "2025-W02" || w2.DegradeCount != 1 || w2.ResolvedCount != 0 || w2.Percentage != 0 {
		t.Fatalf("degrade-only week = %+v, want zero percentage", w2)
	}
	if w2.WeekStart.IsZero() || w2.WeekStart.Weekday() != time.Monday {
		t.Fatalf("degrade-only week bounds missing: %+v", w2)
	}
	w3 := got[2]
	if w3.Week != "2025-W03" || w3.DegradeCount != 0 || w3.ResolvedCount != 1 {
		t.Fatalf("resolved-only week = %+v", w3)
	}
}

func TestMTTRResolved(t *testing.T) {
	issues := []domain.Issue{
		{
			Key:      "M-1",
			Created:  ts(t, "2025-01-10T00:00:00Z"),
			Resolved: ts(t, "2025-01-15T00:00:00Z"),
			Due:      ts(t, "2025-01-12T00:00:00Z"),
		},
		// M-2 is still open and M-3 has no creation date; neither may count.
		{Key: "M-2", Created: ts(t, "2025-01-01T00:00:00Z")},
		{Key: "M-3", Resolved: ts(t, "2025-01-15T00:00:00Z")},
	}
	got := MTTRStats(issues, MTTRResolved, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if len(got) != 1 {
		t.Fatalf("got %d weeks, want 1: %+v", len(got), got)
	}
	wk := got[0]
	if wk.Week != "2025-W03" {
		t.Fatalf("week = %q, want 2025-W03", wk.Week)
	}
	if wk.Count != 1 || wk.AvgDays != 5 {
		t.Fatalf("avg = %+v, want 5 days over 1 issue", wk)
	}
	if wk.OverdueCount != 1 || wk.AvgOverdueDays != 3 {
		t.Fatalf("overdue = %+v, want 1 issue 3 days late", wk)
	}
}

func TestMTTROngoing(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	issues := []domain.Issue{
		{
			Key:     "M-1",
			Created: ts(t, "2025-01-10T00:00:00Z"),
			Due:     ts(t, "2025-01-12T00:00:00Z"),
		},
		{
			Key:      "M-2",
			Created:  ts(t, "2025-01-10T00:00:00Z"),
			Resolved: ts(t, "2025-01-11T00:00:00Z"), // resolved, excluded
		},
	}
	got := MTTRStats(issues, MTTROngoing, now)
	if len(got) != 1 {
		t.Fatalf("got %d weeks, want 1: %+v", len(got), got)
	}
	wk := got[0]
	// Open issues are attributed to their creation week.
	if wk.Week != "2025-W02" {
		t.Fatalf("week = %q, want 2025-W02", wk.Week)
	}
	if wk.Count != 1 || wk.AvgDays != 10 {
		t.Fatalf("avg = %+v, want 10 days", wk)
	}
	if wk.OverdueCount != 1 || wk.AvgOverdueDays != 8 {
		t.Fatalf("overdue = %+v, want 8 days past due", wk)
	}
}

func TestMTTRNotOverdueWithoutDue(t *testing.T) {
	issues := []domain.Issue{
		{
			Key:      "M-1",
			Created:  ts(t, "2025-01-10T00:00:00Z"),
			Resolved: ts(t, "2025-01-20T00:00:00Z"),
		},
	}
	got := MTTRStats(issues, MTTRResolved, time.Now().UTC())
	if len(got) != 1 || got[0].OverdueCount != 0 || got[0].AvgOverdueDays != 0 {
		t.Fatalf("issue without due date counted overdue: %+v", got)
	}
}

func TestAssigneeDistribution(t *testing.T) {
	issues := []domain.Issue{
		{Key: "A-1", Assignee: "alice"},
		{Key: "A-2", Assignee: "alice"},
		{Key: "A-3", Assignee: "bob"},
		{Key: "A-4"},
	}
	got := AssigneeDistribution(issues)
	if got["alice"] != 2 || got["bob"] != 1 || got[Unassigned] != 1 {
		t.Fatalf("distribution = %v", got)
	}
}

func TestOwnersSortedUnion(t *testing.T) {
	degrade := []domain.Issue{{Assignee: "carol"}, {Assignee: "alice"}}
	resolved := []domain.Issue{{Assignee: "bob"}, {}}
	got := Owners(degrade, resolved)
	want := []string{Unassigned, "alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
