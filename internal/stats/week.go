/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qqringman/Degrade/internal/domain"
)

// DateField selects which issue timestamp drives week bucketing.
type DateField int

const (
	ByResolved DateField = iota
	ByCreated
)

// WeekBucket collects the issues that fall into one ISO week.
type WeekBucket struct {
	Week      string
	Start     time.Time
	End       time.Time
	Count     int
	IssueKeys []string
	Assignees map[string]int
}

var jiraTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

// ParseJiraTime parses the timestamp shapes Jira Server and Cloud emit,
// including the bare date used for duedate. Returns nil when nothing
// matches; callers treat that the same as an absent field.
func ParseJiraTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, l := range jiraTimeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}

// WeekKey returns the ISO 8601 label of the week containing t, e.g. 2025-W01.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// WeekBounds returns the Monday 00:00:00 start and Sunday 23:59:59 end of
// the given ISO week, both UTC. The week containing January 4 is week 1, so
// the first days of a year can land in the previous year's last week.
func WeekBounds(year, week int) (time.Time, time.Time) {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	wd := int(jan4.Weekday())
	if wd == 0 {
		wd = 7
	}
	monday := jan4.AddDate(0, 0, -(wd-1)+(week-1)*7)
	start := time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	endDay := start.AddDate(0, 0, 6)
	end := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), 23, 59, 59, 0, time.UTC)
	return start, end
}

// WeekBoundsOf returns the bounds of the week containing t.
func WeekBoundsOf(t time.Time) (time.Time, time.Time) {
	year, week := t.ISOWeek()
	return WeekBounds(year, week)
}

func dateOf(is domain.Issue, field DateField) *time.Time {
	if field == ByCreated {
		return is.Created
	}
	return is.Resolved
}

// BucketByWeek groups issues into ISO weeks keyed by label. Issues missing
// the selected date are skipped here; they remain visible in overall totals.
func BucketByWeek(issues []domain.Issue, field DateField) map[string]*WeekBucket {
	out := map[string]*WeekBucket{}
	skipped := 0
	for _, is := range issues {
		ts := dateOf(is, field)
		if ts == nil {
			skipped++
			continue
		}
		key := WeekKey(*ts)
		b := out[key]
		if b == nil {
			start, end := WeekBoundsOf(*ts)
			b = &WeekBucket{Week: key, Start: start, End: end, Assignees: map[string]int{}}
			out[key] = b
		}
		b.Count++
		b.IssueKeys = append(b.IssueKeys, is.Key)
		b.Assignees[assigneeName(is)]++
	}
	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("week bucket: issues without usable date")
	}
	return out
}

// SortedWeeks returns the union of bucket labels in chronological order.
// The zero-padded week number makes plain string sort correct, across year
// boundaries too.
func SortedWeeks(buckets ...map[string]*WeekBucket) []string {
	seen := map[string]struct{}{}
	for _, m := range buckets {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
