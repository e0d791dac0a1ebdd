/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/qqringman/Degrade/internal/adapters/jira"
	"github.com/qqringman/Degrade/internal/cache"
	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
	"github.com/qqringman/Degrade/internal/repo"
	"github.com/qqringman/Degrade/internal/stats"
)

// Fetcher pulls the issues of one saved filter from one Jira site.
type Fetcher interface {
	FetchFilterIssues(ctx context.Context, filterID string, max int, withDescription bool) ([]domain.Issue, error)
}

// Summarizer turns the weekly numbers into a short prose paragraph.
type Summarizer interface {
	SummarizeWeekly(ctx context.Context, weeks []domain.WeeklyStat) (string, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessagePlain(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	cfg      config.Config
	log      zerolog.Logger
	cache    *cache.Cache
	fetchers map[domain.Source]Fetcher
	repo     *repo.Repository
	llm      Summarizer
	tg       Notifier
	sites    map[domain.Source]string
	now      func() time.Time
	sf       singleflight.Group
}

func New(cfg config.Config, log zerolog.Logger, c *cache.Cache, fetchers map[domain.Source]Fetcher, r *repo.Repository, llm Summarizer, tg Notifier) *Service {
	return &Service{
		cfg:      cfg,
		log:      log,
		cache:    c,
		fetchers: fetchers,
		repo:     r,
		llm:      llm,
		tg:       tg,
		sites: map[domain.Source]string{
			domain.SourceInternal: cfg.Internal.Host,
			domain.SourceVendor:   cfg.Vendor.Host,
		},
		now: time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type fetchJob struct {
	idx int
	d   domain.QueryDescriptor
}

// collectAggregate fans the configured filter queries out over a bounded
// worker pool and assembles the result in descriptor order, so two runs over
// the same data produce identical slices. Failed queries become warnings,
// never errors: one dead site must not blank the other one's numbers.
func (s *Service) collectAggregate(ctx context.Context) *domain.AggregateResult {
	started := s.now()
	descs := s.cfg.Descriptors()
	issues := make([][]domain.Issue, len(descs))
	failures := make([]*domain.QueryFailure, len(descs))

	workers := s.cfg.FetchWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(descs) {
		workers = len(descs)
	}
	jobs := make(chan fetchJob)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				issues[j.idx], failures[j.idx] = s.fetchOne(ctx, j.d)
			}
		}()
	}
	for i, d := range descs {
		jobs <- fetchJob{idx: i, d: d}
	}
	close(jobs)
	wg.Wait()

	res := &domain.AggregateResult{
		Sites:     s.sites,
		FetchedAt: s.now().UTC(),
	}
	for i, d := range descs {
		if f := failures[i]; f != nil {
			res.Warnings = append(res.Warnings, *f)
			continue
		}
		switch d.Role {
		case domain.RoleDegrade:
			res.Degrade = append(res.Degrade, issues[i]...)
		case domain.RoleResolved:
			res.Resolved = append(res.Resolved, issues[i]...)
		}
	}
	res.Degrade = stats.RepairSource(res.Degrade, res.Sites)
	res.Resolved = stats.RepairSource(res.Resolved, res.Sites)
	if s.cfg.GerritOnlyResolved {
		before := len(res.Resolved)
		res.Resolved = stats.FilterGerrit(res.Resolved)
		s.log.Info().Int("before", before).Int("after", len(res.Resolved)).Msg("gerrit screen applied")
		for i := range res.Resolved {
			res.Resolved[i].Description = ""
		}
	}
	res.LoadSeconds = stats.Round2(s.now().Sub(started).Seconds())
	s.log.Info().
		Int("degrade", len(res.Degrade)).
		Int("resolved", len(res.Resolved)).
		Int("warnings", len(res.Warnings)).
		Float64("load_seconds", res.LoadSeconds).
		Msg("aggregate collected")
	return res
}

func (s *Service) fetchOne(ctx context.Context, d domain.QueryDescriptor) ([]domain.Issue, *domain.QueryFailure) {
	f := s.fetchers[d.Source]
	if f == nil {
		return nil, &domain.QueryFailure{
			Source: d.Source, Role: d.Role, Site: d.Site, FilterID: d.FilterID,
			Kind: domain.ErrConnection, Message: "no client configured for source",
		}
	}
	withDesc := s.cfg.GerritOnlyResolved && d.Role == domain.RoleResolved
	issues, err := f.FetchFilterIssues(ctx, d.FilterID, s.cfg.FetchMaxResults, withDesc)
	if err != nil {
		qf := &domain.QueryFailure{Source: d.Source, Role: d.Role, Site: d.Site, FilterID: d.FilterID}
		var fe *jira.Error
		if errors.As(err, &fe) {
			qf.Kind = fe.Kind
			qf.Message = fe.Message
			qf.FilterOwner = fe.Owner
		} else {
			qf.Kind = domain.ErrUnknown
			qf.Message = err.Error()
		}
		s.log.Warn().
			Str("source", string(d.Source)).
			Str("role", string(d.Role)).
			Str("filter", d.FilterID).
			Str("kind", string(qf.Kind)).
			Msg("filter fetch failed")
		return nil, qf
	}
	for i := range issues {
		issues[i].Source = d.Source
	}
	return issues, nil
}

// GetAggregate returns the cached aggregate, fetching only when the cache is
// cold or stale. A refresh already in flight is joined, not duplicated.
func (s *Service) GetAggregate(ctx context.Context) (*domain.AggregateResult, error) {
	if res, ok := s.cache.Get(); ok {
		return res, nil
	}
	return s.Refresh(ctx)
}

// Refresh forces a full re-fetch. Concurrent callers collapse into a single
// collection and share its result.
func (s *Service) Refresh(ctx context.Context) (*domain.AggregateResult, error) {
	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		s.cache.BeginRefresh()
		defer s.cache.EndRefresh()
		var runID int64
		if s.repo != nil {
			id, err := s.repo.StartRefreshRun(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("refresh bookkeeping unavailable")
			} else {
				runID = id
			}
		}
		res := s.collectAggregate(ctx)
		s.cache.Set(res)
		s.record(runID, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AggregateResult), nil
}

// RefreshAsync kicks a refresh off in the background and reports whether a
// new one actually started.
func (s *Service) RefreshAsync() bool {
	if s.cache.Status().Loading {
		return false
	}
	go func() {
		if _, err := s.Refresh(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("background refresh failed")
		}
	}()
	return true
}

// record writes the run bookkeeping and the weekly snapshot. It runs on its
// own context so an aborted HTTP request cannot lose the record.
func (s *Service) record(runID int64, res *domain.AggregateResult) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if runID != 0 {
		var errStr string
		for _, w := range res.Warnings {
			if errStr != "" {
				errStr += "; "
			}
			errStr += fmt.Sprintf("%s/%s filter %s: %s", w.Source, w.Role, w.FilterID, w.Kind)
		}
		ok := len(res.Warnings) == 0
		if err := s.repo.FinishRefreshRun(ctx, runID, len(res.Degrade), len(res.Resolved), len(res.Warnings), res.LoadSeconds, ok, errStr); err != nil {
			s.log.Warn().Err(err).Msg("refresh bookkeeping failed")
		}
	}
	weekly := stats.WeeklyPercentages(res.Degrade, res.Resolved, stats.ByResolved)
	if err := s.repo.SaveWeeklyStats(ctx, weekly); err != nil {
		s.log.Warn().Err(err).Msg("weekly snapshot failed")
	}
}

// StatsParams narrows the report. Zero values leave the corresponding
// dimension unfiltered.
type StatsParams struct {
	Start time.Time
	End   time.Time
	Owner string
}

// StatsFilters echoes the applied request filters back to the dashboard.
type StatsFilters struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Owner     string `json:"owner"`
}

// StatsReport is the full dashboard payload.
type StatsReport struct {
	Issues            []domain.Issue           `json:"issues"`
	DegradeCount      int                      `json:"degrade_count"`
	ResolvedCount     int                      `json:"resolved_count"`
	Percentage        float64                  `json:"percentage"`
	Weekly            []domain.WeeklyStat      `json:"weekly"`
	MTTRResolved      []domain.MTTRWeek        `json:"mttr_resolved"`
	MTTROngoing       []domain.MTTRWeek        `json:"mttr_ongoing"`
	Assignees         map[string]int           `json:"assignees"`
	ResolvedAssignees map[string]int           `json:"resolved_assignees"`
	Owners            []string                 `json:"owners"`
	Sites             map[domain.Source]string `json:"sites"`
	Filters           StatsFilters             `json:"filters"`
	Warnings          []domain.QueryFailure    `json:"warnings"`
	Cache             domain.CacheStatus       `json:"cache"`
	LoadSeconds       float64                  `json:"load_seconds"`
	GeneratedAt       time.Time                `json:"generated_at"`
}

// Stats filters the aggregate and computes every derived number in one pass.
// The owners list deliberately comes from the unfiltered sets, so a dashboard
// can keep offering every assignee while one of them is selected.
func (s *Service) Stats(ctx context.Context, p StatsParams) (*StatsReport, error) {
	agg, err := s.GetAggregate(ctx)
	if err != nil {
		return nil, err
	}
	degrade := stats.FilterIssues(agg.Degrade, p.Start, p.End, p.Owner)
	resolved := stats.FilterIssues(agg.Resolved, p.Start, p.End, p.Owner)
	now := s.now().UTC()
	rep := &StatsReport{
		Issues:            degrade,
		DegradeCount:      len(degrade),
		ResolvedCount:     len(resolved),
		Percentage:        stats.OverallPercentage(len(degrade), len(resolved)),
		Weekly:            stats.WeeklyPercentages(degrade, resolved, stats.ByResolved),
		MTTRResolved:      stats.MTTRStats(degrade, stats.MTTRResolved, now),
		MTTROngoing:       stats.MTTRStats(degrade, stats.MTTROngoing, now),
		Assignees:         stats.AssigneeDistribution(degrade),
		ResolvedAssignees: stats.AssigneeDistribution(resolved),
		Owners:            stats.Owners(agg.Degrade, agg.Resolved),
		Sites:             agg.Sites,
		Filters:           echoFilters(p),
		Warnings:          agg.Warnings,
		Cache:             s.cache.Status(),
		LoadSeconds:       agg.LoadSeconds,
		GeneratedAt:       now,
	}
	if rep.Issues == nil {
		rep.Issues = []domain.Issue{}
	}
	if rep.Warnings == nil {
		rep.Warnings = []domain.QueryFailure{}
	}
	return rep, nil
}

func echoFilters(p StatsParams) StatsFilters {
	f := StatsFilters{Owner: p.Owner}
	if !p.Start.IsZero() {
		f.StartDate = p.Start.Format("2006-01-02")
	}
	if !p.End.IsZero() {
		f.EndDate = p.End.Format("2006-01-02")
	}
	return f
}

func (s *Service) CacheStatus() domain.CacheStatus { return s.cache.Status() }

func (s *Service) ClearCache() {
	s.cache.Clear()
	s.log.Info().Msg("cache cleared")
}

// ErrNoDatabase marks operations that need the optional Postgres backend
// while the service runs without one.
var ErrNoDatabase = errors.New("no database configured")

func (s *Service) GetLastRun(ctx context.Context) (*repo.LastRun, error) {
	if s.repo == nil {
		return nil, ErrNoDatabase
	}
	return s.repo.GetLastRun(ctx)
}

// RunDigest renders the weekly trend, optionally asks the model for a prose
// summary, and delivers the text to every configured chat.
func (s *Service) RunDigest(ctx context.Context) error {
	agg, err := s.GetAggregate(ctx)
	if err != nil {
		return err
	}
	weekly := stats.WeeklyPercentages(agg.Degrade, agg.Resolved, stats.ByResolved)
	if n := s.cfg.DigestWeeks; n > 0 && len(weekly) > n {
		weekly = weekly[len(weekly)-n:]
	}
	text := renderDigest(weekly, agg)
	if s.llm != nil {
		sum, err := s.llm.SummarizeWeekly(ctx, weekly)
		if err != nil {
			s.log.Warn().Err(err).Msg("digest summary failed")
		} else if sum != "" {
			text += "\n" + sum
		}
	}
	if s.tg == nil || len(s.cfg.TelegramChatIDs) == 0 {
		s.log.Info().Msg("digest rendered, no notifier configured")
		return nil
	}
	for _, chat := range s.cfg.TelegramChatIDs {
		for _, part := range chunkText(text, 3800) {
			if err := s.tg.SendMessage(ctx, chat, part); err != nil {
				s.log.Error().Err(err).Int64("chat", chat).Msg("telegram send failed")
			}
		}
	}
	s.log.Info().Int("weeks", len(weekly)).Msg("digest sent")
	return nil
}

func renderDigest(weekly []domain.WeeklyStat, agg *domain.AggregateResult) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "*Degrade Report*\n")
	fmt.Fprintf(b, "%d degrade / %d resolved issues\n", len(agg.Degrade), len(agg.Resolved))
	fmt.Fprintf(b, "Overall: %.2f%%\n", stats.OverallPercentage(len(agg.Degrade), len(agg.Resolved)))
	if len(agg.Warnings) > 0 {
		fmt.Fprintf(b, "%d filter warnings, numbers may be partial\n", len(agg.Warnings))
	}
	b.WriteString("\n")
	for _, w := range weekly {
		fmt.Fprintf(b, "%s: %d/%d (%.2f%%)\n", w.Week, w.DegradeCount, w.ResolvedCount, w.Percentage)
	}
	return b.String()
}

// chunkText splits text into chunks of up to max runes, breaking on line
// boundaries where possible.
func chunkText(s string, max int) []string {
	if max <= 0 {
		return []string{s}
	}
	var chunks []string
	lines := strings.Split(s, "\n")
	cur := ""
	curlen := 0
	for _, ln := range lines {
		rl := len([]rune(ln))
		if rl > max {
			if curlen > 0 {
				chunks = append(chunks, cur)
				cur = ""
				curlen = 0
			}
			r := []rune(ln)
			for i := 0; i < rl; i += max {
				j := i + max
				if j > rl {
					j = rl
				}
				chunks = append(chunks, string(r[i:j]))
			}
			continue
		}
		extra := rl
		if curlen > 0 {
			extra++
		}
		if curlen+extra > max {
			chunks = append(chunks, cur)
			cur = ln
			curlen = rl
		} else if curlen == 0 {
			cur = ln
			curlen = rl
		} else {
			cur += "\n" + ln
			curlen += extra
		}
	}
	if curlen > 0 {
		chunks = append(chunks, cur)
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}
