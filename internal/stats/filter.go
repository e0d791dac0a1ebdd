/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package stats

import (
	"time"

	"github.com/qqringman/Degrade/internal/domain"
)

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// FilterIssues narrows issues by resolution window and assignee. Zero start
// or end means unbounded on that side; the end bound covers its whole day.
// Issues without a resolution date pass the date filter so that ongoing work
// is not silently dropped, and owner matches the display name exactly, with
// Unassigned standing in for issues that have no assignee. Filtering is
// idempotent: applying the same arguments twice returns the same set.
func FilterIssues(issues []domain.Issue, start, end time.Time, owner string) []domain.Issue {
	var lo, hi time.Time
	if !start.IsZero() {
		lo = dayStart(start)
	}
	if !end.IsZero() {
		hi = dayEnd(end)
	}
	out := make([]domain.Issue, 0, len(issues))
	for _, is := range issues {
		if is.Resolved != nil {
			r := is.Resolved.UTC()
			if !lo.IsZero() && r.Before(lo) {
				continue
			}
			if !hi.IsZero() && r.After(hi) {
				continue
			}
		}
		if owner != "" && assigneeName(is) != owner {
			continue
		}
		out = append(out, is)
	}
	return out
}
