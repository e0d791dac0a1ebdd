/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package stats

import (
	"net/url"
	"strings"

	"github.com/qqringman/Degrade/internal/domain"
)

// SplitBySource partitions issues by their tagged source.
func SplitBySource(issues []domain.Issue) (internal, vendor []domain.Issue) {
	for _, is := range issues {
		if is.Source == domain.SourceVendor {
			vendor = append(vendor, is)
		} else {
			internal = append(internal, is)
		}
	}
	return internal, vendor
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func resolveSource(is domain.Issue, sites map[domain.Source]string) domain.Source {
	if is.Source == domain.SourceInternal || is.Source == domain.SourceVendor {
		return is.Source
	}
	if v := sites[domain.SourceVendor]; v != "" && is.Self != "" && strings.Contains(is.Self, hostOf(v)) {
		return domain.SourceVendor
	}
	return domain.SourceInternal
}

// RepairSource tags every issue with its owning source and rewrites Self to
// a browse link on that site, so links in merged results never point at the
// wrong host. Issues that cannot be attributed fall back to internal, which
// keeps the per-source split summing to the total.
func RepairSource(issues []domain.Issue, sites map[domain.Source]string) []domain.Issue {
	out := make([]domain.Issue, len(issues))
	for i, is := range issues {
		src := resolveSource(is, sites)
		is.Source = src
		if base := sites[src]; base != "" && is.Key != "" {
			is.Self = strings.TrimRight(base, "/") + "/browse/" + is.Key
		}
		out[i] = is
	}
	return out
}
