package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/adapters/jira"
	"github.com/qqringman/Degrade/internal/cache"
	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
)

type stubResult struct {
	issues []domain.Issue
	err    error
}

type stubFetcher struct {
	mu       sync.Mutex
	calls    int
	withDesc map[string]bool
	gate     chan struct{}
	byFilter map[string]stubResult
}

func (f *stubFetcher) FetchFilterIssues(ctx context.Context, filterID string, max int, withDescription bool) ([]domain.Issue, error) {
	f.mu.Lock()
	f.calls++
	if f.withDesc == nil {
		f.withDesc = map[string]bool{}
	}
	f.withDesc[filterID] = withDescription
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	r := f.byFilter[filterID]
	out := make([]domain.Issue, len(r.issues))
	copy(out, r.issues)
	return out, r.err
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() config.Config {
	return config.Config{
		Internal: config.Site{Host: "https://jira.internal.example.com"},
		Vendor:   config.Site{Host: "https://jira.vendor.example.com"},
		Filters: []config.FilterRef{
			{Source: domain.SourceInternal, Role: domain.RoleDegrade, ID: "64959"},
			{Source: domain.SourceVendor, Role: domain.RoleDegrade, ID: "22062"},
			{Source: domain.SourceInternal, Role: domain.RoleResolved, ID: "64958"},
			{Source: domain.SourceVendor, Role: domain.RoleResolved, ID: "23916"},
		},
		CacheTTL:     time.Hour,
		FetchWorkers: 2,
		DigestWeeks:  8,
	}
}

func newTestService(cfg config.Config, internal, vendor Fetcher) *Service {
	fetchers := map[domain.Source]Fetcher{}
	if internal != nil {
		fetchers[domain.SourceInternal] = internal
	}
	if vendor != nil {
		fetchers[domain.SourceVendor] = vendor
	}
	return New(cfg, zerolog.Nop(), cache.New(cfg.CacheTTL), fetchers, nil, nil, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRefreshMergesSourcesInOrder(t *testing.T) {
	internal := &stubFetcher{byFilter: map[string]stubResult{
		"64959": {issues: []domain.Issue{{Key: "IN-1"}, {Key: "IN-2"}}},
		"64958": {issues: []domain.Issue{{Key: "IN-10"}, {Key: "IN-11"}, {Key: "IN-12"}}},
	}}
	vendor := &stubFetcher{byFilter: map[string]stubResult{
		"22062": {issues: []domain.Issue{{Key: "VN-1"}}},
		"23916": {issues: []domain.Issue{{Key: "VN-10"}}},
	}}
	svc := newTestService(testConfig(), internal, vendor)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(res.Degrade) != 3 || len(res.Resolved) != 4 {
		t.Fatalf("got %d degrade, %d resolved", len(res.Degrade), len(res.Resolved))
	}
	// Internal issues come first regardless of which worker finished first.
	wantOrder := []string{"IN-1", "IN-2", "VN-1"}
	for i, want := range wantOrder {
		if res.Degrade[i].Key != want {
			t.Fatalf("degrade[%d] = %s, want %s", i, res.Degrade[i].Key, want)
		}
	}
	if res.Degrade[2].Source != domain.SourceVendor {
		t.Fatalf("VN-1 source = %q", res.Degrade[2].Source)
	}
	if want := "https://jira.internal.example.com/browse/IN-1"; res.Degrade[0].Self != want {
		t.Fatalf("self = %q, want %q", res.Degrade[0].Self, want)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
	if res.Sites[domain.SourceVendor] != "https://jira.vendor.example.com" {
		t.Fatalf("sites = %v", res.Sites)
	}
}

func TestRefreshPartialFailure(t *testing.T) {
	internal := &stubFetcher{byFilter: map[string]stubResult{
		"64959": {issues: []domain.Issue{{Key: "IN-1"}, {Key: "IN-2"}}},
		"64958": {issues: []domain.Issue{{Key: "IN-10"}, {Key: "IN-11"}, {Key: "IN-12"}}},
	}}
	vendor := &stubFetcher{byFilter: map[string]stubResult{
		"22062": {err: &jira.Error{Kind: domain.ErrAuthFailed, Message: "401", Owner: "Vendor Admin"}},
		"23916": {err: &jira.Error{Kind: domain.ErrAuthFailed, Message: "401", Owner: "Vendor Admin"}},
	}}
	svc := newTestService(testConfig(), internal, vendor)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("a failing source must not fail the refresh: %v", err)
	}
	if len(res.Degrade) != 2 || len(res.Resolved) != 3 {
		t.Fatalf("internal data lost: %d degrade, %d resolved", len(res.Degrade), len(res.Resolved))
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("got %d warnings, want one per failed query: %+v", len(res.Warnings), res.Warnings)
	}
	for _, w := range res.Warnings {
		if w.Source != domain.SourceVendor || w.Kind != domain.ErrAuthFailed {
			t.Fatalf("warning = %+v", w)
		}
		if w.FilterOwner != "Vendor Admin" {
			t.Fatalf("warning owner = %q", w.FilterOwner)
		}
		if w.Site != "https://jira.vendor.example.com" {
			t.Fatalf("warning site = %q", w.Site)
		}
	}
	if res.Warnings[0].FilterID != "22062" || res.Warnings[1].FilterID != "23916" {
		t.Fatalf("warning filters = %s, %s", res.Warnings[0].FilterID, res.Warnings[1].FilterID)
	}
}

func TestRefreshSingleQueryFailure(t *testing.T) {
	internal := &stubFetcher{byFilter: map[string]stubResult{
		"64959": {issues: []domain.Issue{{Key: "IN-1"}, {Key: "IN-2"}}},
		"64958": {issues: []domain.Issue{{Key: "IN-10"}, {Key: "IN-11"}, {Key: "IN-12"}}},
	}}
	vendor := &stubFetcher{byFilter: map[string]stubResult{
		"22062": {err: &jira.Error{Kind: domain.ErrAuthFailed, Message: "401"}},
		"23916": {issues: []domain.Issue{{Key: "VN-10"}}},
	}}
	svc := newTestService(testConfig(), internal, vendor)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// Three of four queries delivered; the failed one contributes zero
	// issues and exactly one warning.
	if len(res.Degrade) != 2 || len(res.Resolved) != 4 {
		t.Fatalf("got %d degrade, %d resolved", len(res.Degrade), len(res.Resolved))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %+v", res.Warnings)
	}
	w := res.Warnings[0]
	if w.Kind != domain.ErrAuthFailed || w.FilterID != "22062" || w.Role != domain.RoleDegrade {
		t.Fatalf("warning = %+v", w)
	}
}

func TestRefreshAllQueriesFailed(t *testing.T) {
	down := stubResult{err: &jira.Error{Kind: domain.ErrConnection, Message: "dial tcp: connection refused"}}
	internal := &stubFetcher{byFilter: map[string]stubResult{"64959": down, "64958": down}}
	vendor := &stubFetcher{byFilter: map[string]stubResult{"22062": down, "23916": down}}
	svc := newTestService(testConfig(), internal, vendor)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("an unreachable backend must still produce an aggregate: %v", err)
	}
	if len(res.Degrade) != 0 || len(res.Resolved) != 0 {
		t.Fatalf("got %d degrade, %d resolved", len(res.Degrade), len(res.Resolved))
	}
	if len(res.Warnings) != 4 {
		t.Fatalf("got %d warnings, want one per query: %+v", len(res.Warnings), res.Warnings)
	}
}

func TestGetAggregateUsesCache(t *testing.T) {
	internal := &stubFetcher{byFilter: map[string]stubResult{}}
	vendor := &stubFetcher{byFilter: map[string]stubResult{}}
	svc := newTestService(testConfig(), internal, vendor)

	if _, err := svc.GetAggregate(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	first := internal.callCount() + vendor.callCount()
	if first != 4 {
		t.Fatalf("cold load made %d fetches, want 4", first)
	}
	if _, err := svc.GetAggregate(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := internal.callCount() + vendor.callCount(); got != first {
		t.Fatalf("warm load refetched: %d calls", got)
	}
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := internal.callCount() + vendor.callCount(); got != 2*first {
		t.Fatalf("forced refresh made %d total calls, want %d", got, 2*first)
	}
}

func TestRefreshAsyncReportsInFlight(t *testing.T) {
	gate := make(chan struct{})
	internal := &stubFetcher{gate: gate, byFilter: map[string]stubResult{}}
	vendor := &stubFetcher{gate: gate, byFilter: map[string]stubResult{}}
	svc := newTestService(testConfig(), internal, vendor)

	if !svc.RefreshAsync() {
		t.Fatal("first trigger should start a refresh")
	}
	waitFor(t, "loading flag", func() bool { return svc.CacheStatus().Loading })
	if svc.RefreshAsync() {
		t.Fatal("second trigger should report refresh already running")
	}
	close(gate)
	waitFor(t, "refresh to finish", func() bool { return !svc.CacheStatus().Loading })
	if st := svc.CacheStatus(); !st.Valid {
		t.Fatalf("cache after refresh = %+v", st)
	}
}

func statsFixture() (internal, vendor *stubFetcher) {
	internal = &stubFetcher{byFilter: map[string]stubResult{
		"64959": {issues: []domain.Issue{
			{Key: "IN-1", Assignee: "alice", Created: tp("2024-12-28T00:00:00Z"), Resolved: tp("2025-01-01T10:00:00Z")},
			{Key: "IN-2", Assignee: "alice", Created: tp("2024-12-30T00:00:00Z"), Resolved: tp("2025-01-03T10:00:00Z")},
			{Key: "IN-3", Assignee: "bob", Created: tp("2025-01-02T00:00:00Z"), Resolved: tp("2025-01-08T10:00:00Z")},
			{Key: "IN-4"},
		}},
		"64958": {issues: []domain.Issue{
			{Key: "IN-10", Assignee: "carol", Resolved: tp("2025-01-01T12:00:00Z")},
			{Key: "IN-11", Assignee: "carol", Resolved: tp("2025-01-02T12:00:00Z")},
			{Key: "IN-12", Resolved: tp("2025-01-04T12:00:00Z")},
			{Key: "IN-13", Resolved: tp("2025-01-05T12:00:00Z")},
		}},
	}}
	vendor = &stubFetcher{byFilter: map[string]stubResult{}}
	return internal, vendor
}

// tp is a test-only parse helper that panics instead of taking *testing.T,
// for use inside fixture literals.
func tp(s string) *time.Time {
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	v = v.UTC()
	return &v
}

func TestStatsReport(t *testing.T) {
	internal, vendor := statsFixture()
	svc := newTestService(testConfig(), internal, vendor)

	rep, err := svc.Stats(context.Background(), StatsParams{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if rep.DegradeCount != 4 || rep.ResolvedCount != 4 {
		t.Fatalf("counts = %d/%d", rep.DegradeCount, rep.ResolvedCount)
	}
	if rep.Percentage != 100 {
		t.Fatalf("percentage = %v", rep.Percentage)
	}
	if len(rep.Weekly) != 2 {
		t.Fatalf("weekly = %+v", rep.Weekly)
	}
	w1 := rep.Weekly[0]
	if w1.Week != "2025-W01" || w1.DegradeCount != 2 || w1.ResolvedCount != 4 || w1.Percentage != 50 {
		t.Fatalf("W01 = %+v", w1)
	}
	wantOwners := []string{"Unassigned", "alice", "bob", "carol"}
	if len(rep.Owners) != len(wantOwners) {
		t.Fatalf("owners = %v", rep.Owners)
	}
	for i := range wantOwners {
		if rep.Owners[i] != wantOwners[i] {
			t.Fatalf("owners = %v, want %v", rep.Owners, wantOwners)
		}
	}
	if rep.Assignees["alice"] != 2 || rep.Assignees["Unassigned"] != 1 {
		t.Fatalf("assignees = %v", rep.Assignees)
	}
	if rep.ResolvedAssignees["carol"] != 2 || rep.ResolvedAssignees["Unassigned"] != 2 {
		t.Fatalf("resolved assignees = %v", rep.ResolvedAssignees)
	}
	if rep.Warnings == nil || rep.Issues == nil {
		t.Fatal("issues and warnings must serialize as arrays, not null")
	}
	if !rep.Cache.Valid {
		t.Fatalf("cache status = %+v", rep.Cache)
	}
}

func TestStatsOwnerFilterKeepsOwnerList(t *testing.T) {
	internal, vendor := statsFixture()
	svc := newTestService(testConfig(), internal, vendor)

	rep, err := svc.Stats(context.Background(), StatsParams{Owner: "alice"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if rep.DegradeCount != 2 {
		t.Fatalf("degrade count = %d, want alice's 2", rep.DegradeCount)
	}
	for _, is := range rep.Issues {
		if is.Assignee != "alice" {
			t.Fatalf("leaked issue %+v", is)
		}
	}
	// The selector list stays complete while a single owner is picked.
	if len(rep.Owners) != 4 {
		t.Fatalf("owners = %v", rep.Owners)
	}
}

func TestStatsDateWindow(t *testing.T) {
	internal, vendor := statsFixture()
	svc := newTestService(testConfig(), internal, vendor)

	rep, err := svc.Stats(context.Background(), StatsParams{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// IN-3 resolved in W02 is out; unresolved IN-4 passes the date filter.
	if rep.DegradeCount != 3 {
		t.Fatalf("degrade count = %d", rep.DegradeCount)
	}
	if len(rep.Weekly) != 1 || rep.Weekly[0].Week != "2025-W01" {
		t.Fatalf("weekly = %+v", rep.Weekly)
	}
	if rep.Filters.StartDate != "2025-01-01" || rep.Filters.EndDate != "2025-01-05" || rep.Filters.Owner != "" {
		t.Fatalf("filter echo = %+v", rep.Filters)
	}
}

func TestGerritScreen(t *testing.T) {
	cfg := testConfig()
	cfg.GerritOnlyResolved = true
	internal := &stubFetcher{byFilter: map[string]stubResult{
		"64959": {issues: []domain.Issue{{Key: "IN-1"}}},
		"64958": {issues: []domain.Issue{
			{Key: "IN-10", Description: "merged https://gerrit.example.com/sa/change/1"},
			{Key: "IN-11", Description: "no review yet"},
		}},
	}}
	vendor := &stubFetcher{byFilter: map[string]stubResult{}}
	svc := newTestService(cfg, internal, vendor)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(res.Resolved) != 1 || res.Resolved[0].Key != "IN-10" {
		t.Fatalf("resolved after screen = %+v", res.Resolved)
	}
	if res.Resolved[0].Description != "" {
		t.Fatal("description should be dropped after screening")
	}
	if !internal.withDesc["64958"] {
		t.Fatal("resolved filter should request descriptions when screening")
	}
	if internal.withDesc["64959"] {
		t.Fatal("degrade filter should not request descriptions")
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeNotifier) SendMessagePlain(ctx context.Context, chatID int64, text string) error {
	return f.SendMessage(ctx, chatID, text)
}

type fakeSummarizer struct{ text string }

func (f *fakeSummarizer) SummarizeWeekly(ctx context.Context, weeks []domain.WeeklyStat) (string, error) {
	return f.text, nil
}

func TestRunDigest(t *testing.T) {
	cfg := testConfig()
	cfg.TelegramChatIDs = []int64{42}
	internal, vendor := statsFixture()
	fetchers := map[domain.Source]Fetcher{
		domain.SourceInternal: internal,
		domain.SourceVendor:   vendor,
	}
	tg := &fakeNotifier{}
	svc := New(cfg, zerolog.Nop(), cache.New(cfg.CacheTTL), fetchers, nil, &fakeSummarizer{text: "Trend is flat."}, tg)

	if err := svc.RunDigest(context.Background()); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if len(tg.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(tg.msgs))
	}
	msg := tg.msgs[0]
	if !strings.Contains(msg, "2025-W01: 2/4 (50.00%)") {
		t.Fatalf("digest missing weekly line:\n%s", msg)
	}
	if !strings.Contains(msg, "Trend is flat.") {
		t.Fatalf("digest missing summary:\n%s", msg)
	}
}

func TestChunkText(t *testing.T) {
	got := chunkText("aaa\nbbb\nccc", 7)
	if len(got) != 2 || got[0] != "aaa\nbbb" || got[1] != "ccc" {
		t.Fatalf("chunks = %q", got)
	}
	long := strings.Repeat("x", 25)
	got = chunkText(long, 10)
	if len(got) != 3 || got[2] != strings.Repeat("x", 5) {
		t.Fatalf("hard split = %q", got)
	}
	if got := chunkText("short", 100); len(got) != 1 || got[0] != "short" {
		t.Fatalf("single chunk = %q", got)
	}
}
