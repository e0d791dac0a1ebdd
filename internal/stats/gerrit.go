/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package stats

import (
	"regexp"

	"github.com/qqringman/Degrade/internal/domain"
)

// Gerrit review links under the sa or sd trees mark a fix that actually
// shipped. Three shapes show up in issue descriptions: a full URL, a
// host-relative path, and a project prefix in front of the host.
var gerritPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://\S*gerrit\S*/(sa|sd)\S*`),
	regexp.MustCompile(`(?i)gerrit\S*/(sa|sd)`),
	regexp.MustCompile(`(?i)(sa|sd)\S*gerrit`),
}

// HasGerritURL reports whether the text references a qualifying Gerrit change.
func HasGerritURL(text string) bool {
	for _, p := range gerritPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// FilterGerrit keeps only issues whose description references a qualifying
// Gerrit change. Issues without a description are dropped.
func FilterGerrit(issues []domain.Issue) []domain.Issue {
	out := make([]domain.Issue, 0, len(issues))
	for _, is := range issues {
		if is.Description != "" && HasGerritURL(is.Description) {
			out = append(out, is)
		}
	}
	return out
}
