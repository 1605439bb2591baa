// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dispatch submits recorded releases to the remote upload API. The
// batch is bounded per run, paced between requests, stops early when the
// service signals overload, and never retries a permanently rejected release
// past its attempt cap. All outcome transitions go through the ledger.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/reelherd/reelherd/internal/ledger"
	"github.com/reelherd/reelherd/internal/realdebrid"
)

const (
	// defaultRateLimitBackoff applies when a 429 carries no Retry-After hint.
	defaultRateLimitBackoff = 30 * time.Second

	// transientBackoff is the wait between in-run retries of server errors.
	transientBackoff = 10 * time.Second

	// maxConsecutiveFailures stops the batch when the service is clearly
	// unhealthy even without an explicit 429.
	maxConsecutiveFailures = 5

	// availabilityBatchSize is the number of hashes checked per
	// instantAvailability request in cached-only mode.
	availabilityBatchSize = 10
)

// Uploader is the remote API surface the dispatcher needs. Satisfied by
// *realdebrid.Client.
type Uploader interface {
	GetUser(ctx context.Context) (*realdebrid.User, error)
	AddMagnet(ctx context.Context, magnet string) (*realdebrid.AddedTorrent, error)
	SelectAllFiles(ctx context.Context, id string) error
	InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error)
}

// Options configures a Dispatcher.
type Options struct {
	MaxPerRun   int
	Delay       time.Duration // pacing between successive uploads
	Retries     int           // in-run retries per entry for transient errors
	MaxAttempts int           // cross-run attempt cap per entry
	CachedOnly  bool
}

// Report summarizes one dispatch pass.
type Report struct {
	Disabled  bool
	Succeeded int
	Failed    int
	Terminal  int
	Skipped   int
	Uncached  int
	Batch     int
}

// Dispatcher drains the ledger's upload backlog against the remote API.
type Dispatcher struct {
	uploader Uploader
	ledger   *ledger.Ledger
	opts     Options

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher. A nil uploader means no credential is
// configured; Dispatch then reports uploading as disabled without touching
// the network.
func New(uploader Uploader, l *ledger.Ledger, opts Options) *Dispatcher {
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = 20
	}
	if opts.Delay <= 0 {
		opts.Delay = 3 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}

	return &Dispatcher{
		uploader: uploader,
		ledger:   l,
		opts:     opts,
		sleep:    sleepCtx,
	}
}

// Dispatch selects the eligible batch and submits it in FIFO order.
func (d *Dispatcher) Dispatch(ctx context.Context) (*Report, error) {
	if d.uploader == nil {
		log.Info().Msg("No upload credential configured, uploading disabled")
		return &Report{Disabled: true}, nil
	}

	user, err := d.uploader.GetUser(ctx)
	if err != nil {
		// A failed credential probe skips uploads for this run; discovery
		// already succeeded and the backlog stays intact.
		log.Error().Err(err).Msg("Upload API credential probe failed, skipping uploads this run")
		return &Report{Disabled: true}, nil
	}
	log.Info().
		Str("username", user.Username).
		Int("premium_days", user.Premium).
		Msg("Connected to upload API")

	batch, err := d.ledger.SelectBatch(ctx, d.opts.MaxPerRun, d.opts.MaxAttempts)
	if err != nil {
		return nil, err
	}

	report := &Report{Batch: len(batch)}
	if len(batch) == 0 {
		log.Info().Msg("No releases pending upload")
		return report, nil
	}

	if d.opts.CachedOnly {
		batch, err = d.filterCached(ctx, batch, report)
		if err != nil {
			return nil, err
		}
	}

	limiter := rate.NewLimiter(rate.Every(d.opts.Delay), 1)

	consecutiveFailures := 0

	for i, entry := range batch {
		if err := limiter.Wait(ctx); err != nil {
			report.Skipped += len(batch) - i
			return report, err
		}

		outcome := d.dispatchEntry(ctx, entry)
		switch outcome {
		case entrySucceeded:
			report.Succeeded++
			consecutiveFailures = 0
		case entryFailed:
			report.Failed++
			consecutiveFailures++
		case entryTerminal:
			report.Failed++
			report.Terminal++
			consecutiveFailures++
		case entryDuplicate:
			// Another run won the upload transition; nothing submitted.
			report.Skipped++
			consecutiveFailures = 0
		case entryRateLimited:
			// The service is overloaded; do not burn retries on the rest of
			// the batch. Everything from this entry on is picked up next run.
			report.Skipped += len(batch) - i
			log.Warn().
				Int("skipped", len(batch)-i).
				Msg("Upload API rate limit persisted, stopping batch")
			return report, nil
		}

		if consecutiveFailures >= maxConsecutiveFailures {
			remaining := len(batch) - i - 1
			report.Skipped += remaining
			log.Warn().
				Int("consecutive_failures", consecutiveFailures).
				Int("skipped", remaining).
				Msg("Too many consecutive upload failures, stopping batch")
			return report, nil
		}
	}

	return report, nil
}

type entryOutcome int

const (
	entrySucceeded entryOutcome = iota
	entryFailed
	entryTerminal
	entryDuplicate
	entryRateLimited
)

// dispatchEntry submits one ledger entry, handling in-run retries for rate
// limits and transient server errors.
func (d *Dispatcher) dispatchEntry(ctx context.Context, entry *ledger.Entry) entryOutcome {
	var lastErr error

	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		added, err := d.uploader.AddMagnet(ctx, entry.Magnet)
		if err == nil {
			return d.finishUpload(ctx, entry, added)
		}
		lastErr = err

		var apiErr *realdebrid.APIError
		if errors.As(err, &apiErr) {
			if apiErr.IsRateLimited() {
				backoff := apiErr.RetryAfter
				if backoff <= 0 {
					backoff = defaultRateLimitBackoff
				}
				log.Warn().
					Str("release", entry.Key).
					Str("title", entry.Title).
					Dur("backoff", backoff).
					Int("attempt", attempt+1).
					Msg("Upload rate limited, backing off")

				if attempt == d.opts.Retries {
					// Still limited after the in-run budget: stop the batch.
					// No attempt is charged; this is service overload, not a
					// problem with the release.
					return entryRateLimited
				}
				if err := d.sleep(ctx, backoff); err != nil {
					return entryRateLimited
				}
				continue
			}

			if apiErr.IsPermanent() {
				return d.recordFailure(ctx, entry, apiErr)
			}
		}

		// Transient (5xx or network): back off and retry within the run.
		if attempt < d.opts.Retries {
			log.Warn().
				Err(err).
				Str("release", entry.Key).
				Int("attempt", attempt+1).
				Msg("Upload failed with transient error, retrying")
			if err := d.sleep(ctx, transientBackoff); err != nil {
				return entryFailed
			}
		}
	}

	return d.recordFailure(ctx, entry, lastErr)
}

// finishUpload commits the uploaded transition and best-effort selects the
// remote files for streaming.
func (d *Dispatcher) finishUpload(ctx context.Context, entry *ledger.Entry, added *realdebrid.AddedTorrent) entryOutcome {
	won, err := d.ledger.MarkUploaded(ctx, entry.Key)
	if err != nil {
		log.Error().
			Err(err).
			Str("release", entry.Key).
			Str("remote_id", added.ID).
			Msg("Upload succeeded but ledger transition failed")
		return entryFailed
	}
	if !won {
		log.Warn().
			Str("release", entry.Key).
			Str("remote_id", added.ID).
			Msg("Release was already uploaded by a concurrent run")
		return entryDuplicate
	}

	log.Info().
		Str("release", entry.Key).
		Str("title", entry.Title).
		Str("remote_id", added.ID).
		Msg("Uploaded release")

	// File selection failing never unmarks the upload; the upload itself
	// succeeded and selection can be redone remotely.
	if err := d.uploader.SelectAllFiles(ctx, added.ID); err != nil {
		log.Warn().
			Err(err).
			Str("release", entry.Key).
			Str("remote_id", added.ID).
			Msg("File selection failed after successful upload")
	}

	return entrySucceeded
}

// recordFailure charges one attempt against the entry and reports whether it
// just became terminal.
func (d *Dispatcher) recordFailure(ctx context.Context, entry *ledger.Entry, cause error) entryOutcome {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	attempts, err := d.ledger.RecordFailure(ctx, entry.Key, msg)
	if err != nil {
		log.Error().Err(err).Str("release", entry.Key).Msg("Failed to record upload failure")
		return entryFailed
	}

	if attempts >= d.opts.MaxAttempts {
		log.Error().
			Str("release", entry.Key).
			Str("title", entry.Title).
			Int("attempts", attempts).
			Str("last_error", msg).
			Msg("Release reached the upload attempt cap, giving up permanently")
		return entryTerminal
	}

	log.Warn().
		Str("release", entry.Key).
		Str("title", entry.Title).
		Int("attempts", attempts).
		Str("error", msg).
		Msg("Upload failed, will retry on a later run")
	return entryFailed
}

// filterCached narrows the batch to hashes already cached on the service.
// Uncached entries are skipped without charging an attempt; cache status
// changes over time and they stay eligible.
func (d *Dispatcher) filterCached(ctx context.Context, batch []*ledger.Entry, report *Report) ([]*ledger.Entry, error) {
	byHash := make(map[string]*ledger.Entry, len(batch))
	var cached []*ledger.Entry

	for start := 0; start < len(batch); start += availabilityBatchSize {
		end := min(start+availabilityBatchSize, len(batch))

		hashes := make([]string, 0, end-start)
		for _, entry := range batch[start:end] {
			hashes = append(hashes, entry.Hash)
			byHash[entry.Hash] = entry
		}

		availability, err := d.uploader.InstantAvailability(ctx, hashes)
		if err != nil {
			return nil, err
		}

		for _, hash := range hashes {
			if availability[hash] {
				cached = append(cached, byHash[hash])
			} else {
				report.Uncached++
			}
		}
	}

	log.Info().
		Int("cached", len(cached)).
		Int("uncached", report.Uncached).
		Msg("Instant availability check complete")

	return cached, nil
}

func sleepCtx(ctx context.Context, duration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
		return nil
	}
}
