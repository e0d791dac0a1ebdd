/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/domain"
	"github.com/qqringman/Degrade/internal/stats"
)

// Jira Server caps search pages below the requested size on some
// deployments; the loop advances by whatever the server actually returned.
const pageSize = 100

const baseFields = "key,summary,assignee,status,resolutiondate,created,duedate"

// Client talks to a single Jira site over REST API v2. The aggregator holds
// one Client per source.
type Client struct {
	base  string
	user  string
	pass  string
	token string
	http  *http.Client
	log   zerolog.Logger
}

// NewClient builds a site client. A personal access token wins over basic
// credentials when both are set.
func NewClient(base, user, pass, token string, timeout time.Duration, lg zerolog.Logger) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		user:  user,
		pass:  pass,
		token: token,
		http:  &http.Client{Timeout: timeout},
		log:   lg.With().Str("component", "jira").Str("site", base).Logger(),
	}
}

// BaseURL returns the site root the client was built for.
func (c *Client) BaseURL() string { return c.base }

// Error is a fetch failure classified into the warning taxonomy. Owner names
// the saved filter's owner when the site was reachable enough to ask.
type Error struct {
	Kind    domain.ErrorKind
	Status  int
	Message string
	Owner   string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func classifyStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrAuthFailed
	case http.StatusForbidden:
		return domain.ErrPermissionDenied
	case http.StatusNotFound:
		return domain.ErrFilterNotFound
	default:
		return domain.ErrHTTP
	}
}

func classifyErr(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrTimeout
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return domain.ErrConnection
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return domain.ErrConnection
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ErrConnection
	}
	return domain.ErrUnknown
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

func (c *Client) doJSON(ctx context.Context, path string, q url.Values, out any) error {
	if c.base == "" {
		return &Error{Kind: domain.ErrConnection, Message: "site URL not configured"}
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &Error{Kind: domain.ErrUnknown, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: classifyErr(err), Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s returned HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: domain.ErrUnknown, Message: "decode response: " + err.Error()}
	}
	return nil
}

type issueJSON struct {
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields struct {
		Summary  string `json:"summary"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Status *struct {
			Name string `json:"name"`
		} `json:"status"`
		ResolutionDate string `json:"resolutiondate"`
		Created        string `json:"created"`
		DueDate        string `json:"duedate"`
		Description    string `json:"description"`
	} `json:"fields"`
}

type searchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []issueJSON `json:"issues"`
}

func toIssue(raw issueJSON) domain.Issue {
	is := domain.Issue{
		Key:         raw.Key,
		Self:        raw.Self,
		Summary:     raw.Fields.Summary,
		Description: raw.Fields.Description,
	}
	if raw.Fields.Assignee != nil {
		is.Assignee = raw.Fields.Assignee.DisplayName
	}
	if raw.Fields.Status != nil {
		is.Status = raw.Fields.Status.Name
	}
	is.Created = stats.ParseJiraTime(raw.Fields.Created)
	is.Resolved = stats.ParseJiraTime(raw.Fields.ResolutionDate)
	is.Due = stats.ParseJiraTime(raw.Fields.DueDate)
	return is
}

func validatePage(sr searchResponse, startAt int) error {
	if sr.Issues == nil && sr.Total > startAt {
		return &Error{Kind: domain.ErrUnknown, Message: fmt.Sprintf("page at %d missing issues array", startAt)}
	}
	for _, is := range sr.Issues {
		if is.Key == "" {
			return &Error{Kind: domain.ErrUnknown, Message: fmt.Sprintf("page at %d contains issue without key", startAt)}
		}
	}
	return nil
}

// FetchFilterIssues pulls every issue of a saved filter, page by page, until
// the server-reported total or the max cap is reached. max <= 0 means no
// cap. withDescription widens the field projection; descriptions are only
// needed for the Gerrit screen and are heavy on some issues. Failures come
// back as *Error with a classified kind.
func (c *Client) FetchFilterIssues(ctx context.Context, filterID string, max int, withDescription bool) ([]domain.Issue, error) {
	fields := baseFields
	if withDescription {
		fields += ",description"
	}
	var out []domain.Issue
	startAt := 0
	total := -1
	for {
		page := pageSize
		if max > 0 && startAt+page > max {
			page = max - startAt
		}
		if page <= 0 {
			break
		}
		q := url.Values{}
		q.Set("jql", "filter="+filterID)
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(page))
		q.Set("fields", fields)
		var sr searchResponse
		if err := c.doJSON(ctx, "/rest/api/2/search", q, &sr); err != nil {
			return nil, c.withOwner(ctx, filterID, err)
		}
		if err := validatePage(sr, startAt); err != nil {
			return nil, c.withOwner(ctx, filterID, err)
		}
		if total < 0 {
			total = sr.Total
			c.log.Debug().Str("filter", filterID).Int("total", total).Msg("filter search started")
		}
		for _, raw := range sr.Issues {
			out = append(out, toIssue(raw))
		}
		startAt += len(sr.Issues)
		if len(sr.Issues) == 0 || startAt >= total {
			break
		}
		if max > 0 && startAt >= max {
			break
		}
	}
	c.log.Debug().Str("filter", filterID).Int("fetched", len(out)).Msg("filter search done")
	return out, nil
}

// withOwner annotates a classified failure with the filter's owner so the
// warning can name who to ask. Unreachable sites are left alone since the
// extra lookups would only stall the worker pool further.
func (c *Client) withOwner(ctx context.Context, filterID string, err error) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	switch fe.Kind {
	case domain.ErrTimeout, domain.ErrConnection:
		return fe
	}
	if fe.Owner == "" {
		fe.Owner = c.filterOwner(ctx, filterID)
	}
	return fe
}

func (c *Client) filterOwner(ctx context.Context, filterID string) string {
	var fr struct {
		Owner struct {
			DisplayName string `json:"displayName"`
		} `json:"owner"`
	}
	if err := c.doJSON(ctx, "/rest/api/2/filter/"+url.PathEscape(filterID), nil, &fr); err == nil && fr.Owner.DisplayName != "" {
		return fr.Owner.DisplayName
	}
	var me struct {
		DisplayName string `json:"displayName"`
	}
	if err := c.doJSON(ctx, "/rest/api/2/myself", nil, &me); err == nil {
		return me.DisplayName
	}
	return ""
}

// Myself returns the display name of the authenticated account. The
// connectivity check uses it to prove credentials before touching filters.
func (c *Client) Myself(ctx context.Context) (string, error) {
	var me struct {
		DisplayName string `json:"displayName"`
		Name        string `json:"name"`
	}
	if err := c.doJSON(ctx, "/rest/api/2/myself", nil, &me); err != nil {
		return "", err
	}
	if me.DisplayName != "" {
		return me.DisplayName, nil
	}
	return me.Name, nil
}
