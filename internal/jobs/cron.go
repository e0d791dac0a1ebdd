package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
	"github.com/qqringman/Degrade/internal/repo"
)

type service interface {
	Refresh(ctx context.Context) (*domain.AggregateResult, error)
	RunDigest(ctx context.Context) error
}

// Distinct advisory lock keys so a long digest never blocks a refresh.
const (
	lockRefresh int64 = 424242
	lockDigest  int64 = 424243
)

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Cron {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
	if cfg.RefreshCron != "" {
		if _, err := c.AddFunc(cfg.RefreshCron, cr.refresh); err != nil {
			log.Error().Err(err).Str("spec", cfg.RefreshCron).Msg("cron: bad refresh schedule")
		}
	}
	if cfg.DigestCron != "" {
		if _, err := c.AddFunc(cfg.DigestCron, cr.digest); err != nil {
			log.Error().Err(err).Str("spec", cfg.DigestCron).Msg("cron: bad digest schedule")
		}
	}
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	cr.withLock(ctx, lockRefresh, "refresh", func(ctx context.Context) error {
		_, err := cr.svc.Refresh(ctx)
		return err
	})
}

func (cr *Cron) digest() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	cr.withLock(ctx, lockDigest, "digest", cr.svc.RunDigest)
}

// withLock serializes a job across replicas through a Postgres advisory lock.
// Without a database every replica runs the job; acceptable for single-node
// deployments, which is the no-DB case anyway.
func (cr *Cron) withLock(ctx context.Context, key int64, name string, fn func(context.Context) error) {
	if cr.repo != nil {
		ok, err := cr.repo.TryAdvisoryLock(ctx, key)
		if err != nil {
			cr.log.Error().Err(err).Str("job", name).Msg("cron: lock error")
			return
		}
		if !ok {
			cr.log.Info().Str("job", name).Msg("cron: already running elsewhere")
			return
		}
		defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), key) }()
	}
	cr.log.Info().Str("job", name).Msg("cron: run")
	if err := fn(ctx); err != nil {
		cr.log.Error().Err(err).Str("job", name).Msg("cron: job failed")
	}
}
