/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/qqringman/Degrade/internal/domain"
)

// Unassigned is the distribution label for issues without an assignee.
const Unassigned = "Unassigned"

// MTTRMode selects which population a resolution-time report covers.
type MTTRMode int

const (
	// MTTRResolved averages created-to-resolved age, bucketed by resolution week.
	MTTRResolved MTTRMode = iota
	// MTTROngoing averages created-to-now age of open issues, bucketed by creation week.
	MTTROngoing
)

func assigneeName(is domain.Issue) string {
	if is.Assignee == "" {
		return Unassigned
	}
	return is.Assignee
}

// Round2 rounds to two decimals, the precision every percentage and
// day-count in the API carries.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}

// AssigneeDistribution counts issues per assignee display name.
func AssigneeDistribution(issues []domain.Issue) map[string]int {
	out := map[string]int{}
	for _, is := range issues {
		out[assigneeName(is)]++
	}
	return out
}

// Owners returns the sorted union of assignee names across both issue sets.
func Owners(degrade, resolved []domain.Issue) []string {
	seen := map[string]struct{}{}
	for _, is := range degrade {
		seen[assigneeName(is)] = struct{}{}
	}
	for _, is := range resolved {
		seen[assigneeName(is)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OverallPercentage is the degrade share of resolved work, in percent with
// two decimals. A zero resolved count yields 0 rather than a division error.
func OverallPercentage(degradeCount, resolvedCount int) float64 {
	if resolvedCount == 0 {
		return 0
	}
	return Round2(float64(degradeCount) / float64(resolvedCount) * 100)
}

func parseWeekKey(key string) (int, int, bool) {
	var year, week int
	if _, err := fmt.Sscanf(key, "%d-W%d", &year, &week); err != nil {
		return 0, 0, false
	}
	return year, week, true
}

// WeeklyPercentages lines the two issue sets up on the union of their ISO
// weeks. Weeks present on only one side still appear, with the other count
// at zero; the percentage follows the same zero-resolved rule as the
// overall number.
func WeeklyPercentages(degrade, resolved []domain.Issue, field DateField) []domain.WeeklyStat {
	db := BucketByWeek(degrade, field)
	rb := BucketByWeek(resolved, field)
	weeks := SortedWeeks(db, rb)
	out := make([]domain.WeeklyStat, 0, len(weeks))
	for _, wk := range weeks {
		st := domain.WeeklyStat{Week: wk}
		if b := db[wk]; b != nil {
			st.DegradeCount = b.Count
			st.WeekStart, st.WeekEnd = b.Start, b.End
		}
		if b := rb[wk]; b != nil {
			st.ResolvedCount = b.Count
			st.WeekStart, st.WeekEnd = b.Start, b.End
		}
		if st.WeekStart.IsZero() {
			if y, w, ok := parseWeekKey(wk); ok {
				st.WeekStart, st.WeekEnd = WeekBounds(y, w)
			}
		}
		st.Percentage = OverallPercentage(st.DegradeCount, st.ResolvedCount)
		out = append(out, st)
	}
	return out
}

type mttrAcc struct {
	count       int
	totalDays   float64
	overdue     int
	overdueDays float64
}

// MTTRStats reports mean time to resolution per ISO week. In resolved mode
// the clock stops at the resolution date; in ongoing mode open issues are
// aged against now and bucketed by their creation week, so a long-open issue
// stays attributed to when it entered the backlog. An issue counts as
// overdue when the stopping point lands after its due date.
func MTTRStats(issues []domain.Issue, mode MTTRMode, now time.Time) []domain.MTTRWeek {
	acc := map[string]*mttrAcc{}
	for _, is := range issues {
		if is.Created == nil {
			continue
		}
		var stop time.Time
		var bucket time.Time
		switch mode {
		case MTTRResolved:
			if is.Resolved == nil {
				continue
			}
			stop = is.Resolved.UTC()
			bucket = stop
		case MTTROngoing:
			if is.Resolved != nil {
				continue
			}
			stop = now.UTC()
			bucket = is.Created.UTC()
		default:
			continue
		}
		key := WeekKey(bucket)
		a := acc[key]
		if a == nil {
			a = &mttrAcc{}
			acc[key] = a
		}
		a.count++
		a.totalDays += days(stop.Sub(is.Created.UTC()))
		if is.Due != nil && stop.After(is.Due.UTC()) {
			a.overdue++
			a.overdueDays += days(stop.Sub(is.Due.UTC()))
		}
	}
	weeks := make([]string, 0, len(acc))
	for k := range acc {
		weeks = append(weeks, k)
	}
	sort.Strings(weeks)
	out := make([]domain.MTTRWeek, 0, len(weeks))
	for _, wk := range weeks {
		a := acc[wk]
		m := domain.MTTRWeek{Week: wk, Count: a.count, OverdueCount: a.overdue}
		m.AvgDays = Round2(a.totalDays / float64(a.count))
		if a.overdue > 0 {
			m.AvgOverdueDays = Round2(a.overdueDays / float64(a.overdue))
		}
		out = append(out, m)
	}
	return out
}
