// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline drives one polling pass: paginate the catalog, filter
// and classify entries, record new releases, then dispatch the upload
// backlog. The pass is strictly sequential; the ledger is the only state
// that survives between runs.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reelherd/reelherd/internal/catalog"
	"github.com/reelherd/reelherd/internal/dispatch"
	"github.com/reelherd/reelherd/internal/filter"
	"github.com/reelherd/reelherd/internal/organizer"
	"github.com/reelherd/reelherd/internal/release"
)

// Catalog is the paginated listing source. Satisfied by *catalog.Client.
type Catalog interface {
	FetchPage(ctx context.Context, page int) (*catalog.Page, error)
}

// Recorder persists classified releases. Satisfied by *organizer.Organizer.
type Recorder interface {
	Record(ctx context.Context, rel release.Release) organizer.RecordResult
}

// Uploader drains the upload backlog. Satisfied by *dispatch.Dispatcher.
type Uploader interface {
	Dispatch(ctx context.Context) (*dispatch.Report, error)
}

// Summary is the result of one full pass.
type Summary struct {
	Pages      int
	Seen       int
	Matched    int
	Created    int
	Duplicates int
	Failed     int
	Upload     *dispatch.Report
	Duration   time.Duration
}

// Runner composes the pipeline stages for one run.
type Runner struct {
	catalog    Catalog
	recorder   Recorder
	dispatcher Uploader
	criteria   filter.Criteria
	maxPages   int
}

// New creates a Runner.
func New(cat Catalog, rec Recorder, up Uploader, criteria filter.Criteria, maxPages int) *Runner {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Runner{
		catalog:    cat,
		recorder:   rec,
		dispatcher: up,
		criteria:   criteria,
		maxPages:   maxPages,
	}
}

// Run executes one discovery-and-dispatch pass. Discovery errors abort the
// run; per-release record failures and upload failures are counted, logged
// and carried by the summary without failing the pass.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	summary := &Summary{}

	// Within one run the same (movie, resolution) pair can show up on more
	// than one page; the catalog is known to serve duplicate objects.
	seenKeys := make(map[string]struct{})

	for page := 1; page <= r.maxPages; page++ {
		p, err := r.catalog.FetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		summary.Pages++

		if p.Exhausted() {
			log.Debug().Int("page", page).Msg("Catalog exhausted")
			break
		}

		summary.Seen += len(p.Movies)

		for _, movie := range p.Movies {
			for _, torrent := range movie.Torrents {
				if !filter.Matches(movie, torrent, r.criteria) {
					continue
				}

				rel := release.FromMovie(movie, torrent)
				if _, dup := seenKeys[rel.Key()]; dup {
					continue
				}
				seenKeys[rel.Key()] = struct{}{}
				summary.Matched++

				result := r.recorder.Record(ctx, rel)
				switch result.Outcome {
				case organizer.OutcomeCreated:
					summary.Created++
					log.Info().
						Str("release", rel.Key()).
						Str("title", rel.Title).
						Str("tier", rel.Tier()).
						Str("genre", rel.PrimaryGenre()).
						Msg("Recorded new release")
				case organizer.OutcomeDuplicate:
					summary.Duplicates++
				case organizer.OutcomeFailed:
					summary.Failed++
					log.Error().
						Err(result.Err).
						Str("release", rel.Key()).
						Str("title", rel.Title).
						Msg("Failed to record release")
				}
			}
		}
	}

	log.Info().
		Int("pages", summary.Pages).
		Int("seen", summary.Seen).
		Int("matched", summary.Matched).
		Int("created", summary.Created).
		Int("duplicates", summary.Duplicates).
		Int("failed", summary.Failed).
		Msg("Discovery pass complete")

	report, err := r.dispatcher.Dispatch(ctx)
	if err != nil {
		// Upload failures never fail a run that completed discovery; the
		// backlog stays in the ledger for the next pass.
		log.Error().Err(err).Msg("Upload dispatch aborted")
		report = &dispatch.Report{}
	}
	summary.Upload = report

	summary.Duration = time.Since(started)

	event := log.Info().
		Int("uploaded", report.Succeeded).
		Int("upload_failed", report.Failed).
		Int("upload_skipped", report.Skipped).
		Dur("duration", summary.Duration)
	if report.Disabled {
		event = event.Bool("upload_disabled", true)
	}
	event.Msg("Run complete")

	return summary, nil
}
