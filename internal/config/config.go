/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qqringman/Degrade/internal/domain"
)

// Site holds the connection settings for one Jira deployment.
type Site struct {
	Host  string
	User  string
	Pass  string
	Token string
}

// FilterRef binds a saved filter ID to the deployment and role it serves.
type FilterRef struct {
	Source domain.Source `yaml:"source"`
	Role   domain.Role   `yaml:"role"`
	ID     string        `yaml:"id"`
}

type Config struct {
	AppEnv   string
	TZ       string
	LogLevel string
	HTTPAddr string

	DBDSN string

	Internal Site
	Vendor   Site

	FiltersFile string
	Filters     []FilterRef

	CacheTTL           time.Duration
	HTTPTimeout        time.Duration
	FetchWorkers       int
	FetchMaxResults    int
	GerritOnlyResolved bool

	RefreshCron string
	DigestCron  string
	DigestWeeks int

	OpenAIKey     string
	OpenAIModel   string
	OpenAITimeout time.Duration

	TelegramToken   string
	TelegramChatIDs []int64
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolenv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func parseInt64s(csv string) []int64 {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

// defaultFilters matches the filter table the dashboard originally shipped
// with; any part of it can be replaced by the manifest or env overrides.
func defaultFilters() []FilterRef {
	return []FilterRef{
		{Source: domain.SourceInternal, Role: domain.RoleDegrade, ID: "64959"},
		{Source: domain.SourceVendor, Role: domain.RoleDegrade, ID: "22062"},
		{Source: domain.SourceInternal, Role: domain.RoleResolved, ID: "64958"},
		{Source: domain.SourceVendor, Role: domain.RoleResolved, ID: "23916"},
	}
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "Asia/Taipei"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBDSN: getenv("DB_DSN", ""),

		Internal: Site{
			Host:  getenv("JIRA_SITE", ""),
			User:  getenv("JIRA_USER", ""),
			Pass:  getenv("JIRA_PASSWORD", ""),
			Token: getenv("JIRA_TOKEN", ""),
		},
		Vendor: Site{
			Host:  getenv("VENDOR_JIRA_SITE", ""),
			User:  getenv("VENDOR_JIRA_USER", ""),
			Pass:  getenv("VENDOR_JIRA_PASSWORD", ""),
			Token: getenv("VENDOR_JIRA_TOKEN", ""),
		},

		FiltersFile: getenv("FILTERS_FILE", "filters.yaml"),

		CacheTTL:           dur("CACHE_TTL", time.Hour),
		HTTPTimeout:        dur("HTTP_TIMEOUT", 60*time.Second),
		FetchWorkers:       atoi("FETCH_WORKERS", 4),
		FetchMaxResults:    atoi("FETCH_MAX_RESULTS", 0),
		GerritOnlyResolved: boolenv("GERRIT_ONLY_RESOLVED", false),

		RefreshCron: getenv("REFRESH_CRON", "0 * * * *"),
		DigestCron:  getenv("DIGEST_CRON", "0 10 * * FRI"),
		DigestWeeks: atoi("DIGEST_WEEKS", 8),

		OpenAIKey:     getenv("OPENAI_API_KEY", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4.1-mini"),
		OpenAITimeout: dur("OPENAI_TIMEOUT", 15*time.Second),

		TelegramToken:   getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs: parseInt64s(getenv("TELEGRAM_CHAT_IDS", "")),
	}

	// The two deployments usually share one account.
	if cfg.Vendor.User == "" {
		cfg.Vendor.User = cfg.Internal.User
	}
	if cfg.Vendor.Pass == "" {
		cfg.Vendor.Pass = cfg.Internal.Pass
	}

	cfg.Filters = defaultFilters()
	if refs, err := loadFilters(cfg.FiltersFile); err == nil && len(refs) > 0 {
		cfg.Filters = refs
	} else if err != nil && !os.IsNotExist(err) {
		log.Printf("warning: cannot load filter manifest %s: %v", cfg.FiltersFile, err)
	}
	applyFilterOverrides(cfg.Filters)

	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	} else {
		log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
	}

	return cfg
}

// loadFilters reads the YAML filter manifest. Entries with an unknown source
// or role are dropped so a typo cannot silently query the wrong deployment.
func loadFilters(path string) ([]FilterRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Filters []FilterRef `yaml:"filters"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]FilterRef, 0, len(doc.Filters))
	for _, f := range doc.Filters {
		if f.Source != domain.SourceInternal && f.Source != domain.SourceVendor {
			log.Printf("warning: filter manifest: unknown source %q for filter %s", f.Source, f.ID)
			continue
		}
		if f.Role != domain.RoleDegrade && f.Role != domain.RoleResolved {
			log.Printf("warning: filter manifest: unknown role %q for filter %s", f.Role, f.ID)
			continue
		}
		if strings.TrimSpace(f.ID) == "" {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// applyFilterOverrides lets single env vars replace individual filter IDs,
// e.g. FILTER_INTERNAL_DEGRADE=70001. Env wins over the manifest.
func applyFilterOverrides(refs []FilterRef) {
	for i := range refs {
		key := "FILTER_" + strings.ToUpper(string(refs[i].Source)) + "_" + strings.ToUpper(string(refs[i].Role))
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			refs[i].ID = v
		}
	}
}

// Site returns the connection settings for the given deployment.
func (c Config) Site(src domain.Source) Site {
	if src == domain.SourceVendor {
		return c.Vendor
	}
	return c.Internal
}

// Descriptors expands the filter table into one query descriptor per filter.
func (c Config) Descriptors() []domain.QueryDescriptor {
	out := make([]domain.QueryDescriptor, 0, len(c.Filters))
	for _, f := range c.Filters {
		out = append(out, domain.QueryDescriptor{
			Source:   f.Source,
			Role:     f.Role,
			Site:     c.Site(f.Source).Host,
			FilterID: f.ID,
		})
	}
	return out
}
