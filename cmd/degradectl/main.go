/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/qqringman/Degrade/internal/adapters/jira"
	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
	"github.com/qqringman/Degrade/internal/logger"
	"github.com/qqringman/Degrade/internal/stats"
)

var version = "0.1.0"

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	rootCmd := &cobra.Command{
		Use:     "degradectl",
		Short:   "Operational checks for the degrade aggregation service",
		Version: version,
	}

	var timeout time.Duration
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	rootCmd.AddCommand(newCheckCommand(cfg, log, &timeout))
	rootCmd.AddCommand(newFetchCommand(cfg, log, &timeout))

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newCheckCommand(cfg config.Config, log zerolog.Logger, timeout *time.Duration) *cobra.Command {
	const sample = 5
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every configured Jira site and filter with the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			var failed bool
			for _, src := range []domain.Source{domain.SourceInternal, domain.SourceVendor} {
				site := cfg.Site(src)
				if site.Host == "" {
					fmt.Printf("%-8s skipped, no site configured\n", src)
					continue
				}
				cl := jira.NewClient(site.Host, site.User, site.Pass, site.Token, cfg.HTTPTimeout, log)
				name, err := cl.Myself(ctx)
				if err != nil {
					failed = true
					fmt.Printf("%-8s FAILED %v\n", src, err)
					continue
				}
				fmt.Printf("%-8s ok, authenticated as %s\n", src, name)
				for _, f := range cfg.Filters {
					if f.Source != src {
						continue
					}
					issues, err := cl.FetchFilterIssues(ctx, f.ID, sample, false)
					if err != nil {
						failed = true
						fmt.Printf("  %-9s filter %-6s FAILED %v\n", f.Role, f.ID, err)
						continue
					}
					fmt.Printf("  %-9s filter %-6s ok, %d issues sampled\n", f.Role, f.ID, len(issues))
				}
			}
			if failed {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}

func newFetchCommand(cfg config.Config, log zerolog.Logger, timeout *time.Duration) *cobra.Command {
	var (
		source   string
		role     string
		filterID string
		max      int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one filter and print its issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()
			src := domain.Source(source)
			if src != domain.SourceInternal && src != domain.SourceVendor {
				return fmt.Errorf("unknown source %q", source)
			}
			rl := domain.Role(role)
			if rl != domain.RoleDegrade && rl != domain.RoleResolved {
				return fmt.Errorf("unknown role %q", role)
			}
			site := cfg.Site(src)
			if site.Host == "" {
				return fmt.Errorf("no site configured for %s", src)
			}
			if filterID == "" {
				for _, f := range cfg.Filters {
					if f.Source == src && f.Role == rl {
						filterID = f.ID
						break
					}
				}
			}
			if filterID == "" {
				return errors.New("no filter id given and none configured")
			}
			cl := jira.NewClient(site.Host, site.User, site.Pass, site.Token, cfg.HTTPTimeout, log)
			issues, err := cl.FetchFilterIssues(ctx, filterID, max, false)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(issues)
			}
			for _, is := range issues {
				resolved := "open"
				if is.Resolved != nil {
					resolved = is.Resolved.Format("2006-01-02")
				}
				owner := is.Assignee
				if owner == "" {
					owner = stats.Unassigned
				}
				fmt.Printf("%-12s %-24s %s\n", is.Key, owner, resolved)
			}
			fmt.Printf("%d issues from filter %s\n", len(issues), filterID)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", string(domain.SourceInternal), "site to query (internal or vendor)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleDegrade), "configured filter to use (degrade or resolved)")
	cmd.Flags().StringVar(&filterID, "filter", "", "explicit filter id, overrides --role")
	cmd.Flags().IntVarP(&max, "max", "n", 50, "cap on fetched issues, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print issues as JSON")
	return cmd
}
