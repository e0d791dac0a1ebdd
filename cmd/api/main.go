/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qqringman/Degrade/internal/adapters/jira"
	"github.com/qqringman/Degrade/internal/adapters/openai"
	"github.com/qqringman/Degrade/internal/adapters/telegram"
	"github.com/qqringman/Degrade/internal/cache"
	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
	httpapi "github.com/qqringman/Degrade/internal/http"
	"github.com/qqringman/Degrade/internal/jobs"
	"github.com/qqringman/Degrade/internal/logger"
	"github.com/qqringman/Degrade/internal/repo"
	"github.com/qqringman/Degrade/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres is optional: without a DSN the service runs cache-only.
	var repository *repo.Repository
	if cfg.DBDSN != "" {
		db := repo.MustOpen(ctx, cfg.DBDSN, log)
		defer db.Close()
		repository = repo.NewRepository(db, log)
		if err := repository.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema init failed")
		}
	}

	// Adapters
	fetchers := map[domain.Source]services.Fetcher{}
	if s := cfg.Internal; s.Host != "" {
		fetchers[domain.SourceInternal] = jira.NewClient(s.Host, s.User, s.Pass, s.Token, cfg.HTTPTimeout, log)
	}
	if s := cfg.Vendor; s.Host != "" {
		fetchers[domain.SourceVendor] = jira.NewClient(s.Host, s.User, s.Pass, s.Token, cfg.HTTPTimeout, log)
	}
	var llm services.Summarizer
	if cfg.OpenAIKey != "" {
		llm = openai.NewClient(cfg, log)
	}
	var tg services.Notifier
	if cfg.TelegramToken != "" {
		tg = telegram.NewClient(cfg, log)
	}

	svc := services.New(cfg, log, cache.New(cfg.CacheTTL), fetchers, repository, llm, tg)

	router := httpapi.NewRouter(cfg, log, svc)

	cron := jobs.NewCron(cfg, log, svc, repository)
	cron.Start()
	defer cron.Stop()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", cfg.HTTPAddr).Int("sources", len(fetchers)).Msg("server up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
