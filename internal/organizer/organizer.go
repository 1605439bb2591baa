// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package organizer writes the canonical on-disk record for each qualifying
// release: a tier/genre directory containing a JSON magnet document and an
// optional poster image. The ledger is consulted before any write so
// re-running against an unchanged catalog window is a no-op.
package organizer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reelherd/reelherd/internal/ledger"
	"github.com/reelherd/reelherd/internal/release"
)

// maxPosterBytes bounds poster downloads.
const maxPosterBytes int64 = 8 << 20

// Outcome is the tagged result of a Record call. Call sites must handle all
// three variants.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecordResult pairs the outcome with the failure cause when OutcomeFailed.
type RecordResult struct {
	Outcome Outcome
	Err     error
}

// magnetDocument is the JSON payload of a .magnet record file. The field
// layout is stable; external tooling consumes these files.
type magnetDocument struct {
	MagnetLink string  `json:"magnet_link"`
	Hash       string  `json:"hash"`
	MovieName  string  `json:"movie_name"`
	Year       int     `json:"year"`
	Rating     float64 `json:"rating"`
	Quality    string  `json:"quality"`
	ImdbID     string  `json:"imdb_id"`
	MovieID    string  `json:"movie_id"`
	CreatedAt  string  `json:"created_at"`
}

// Options configures an Organizer.
type Options struct {
	OutputRoot      string
	DownloadPosters bool
	CSVIndex        bool
	HTTPClient      *http.Client // poster fetches; defaults to a 30s-timeout client
}

// Organizer records classified releases under the output root.
type Organizer struct {
	root       string
	posters    bool
	csvIndex   bool
	ledger     *ledger.Ledger
	httpClient *http.Client
	now        func() time.Time
}

// New creates an Organizer and ensures the output root exists. An unwritable
// output root is fatal to the run.
func New(opts Options, l *ledger.Ledger) (*Organizer, error) {
	if opts.OutputRoot == "" {
		return nil, errors.New("output root is required")
	}
	if err := os.MkdirAll(opts.OutputRoot, 0755); err != nil {
		return nil, fmt.Errorf("create output root %s: %w", opts.OutputRoot, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Organizer{
		root:       opts.OutputRoot,
		posters:    opts.DownloadPosters,
		csvIndex:   opts.CSVIndex,
		ledger:     l,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Record persists one release. Order of operations: ledger sighting, dedup
// check, directory creation, magnet file write, ledger recorded transition,
// then best-effort poster and CSV index. The release counts as recorded once
// the magnet file exists; poster and index failures never undo that.
func (o *Organizer) Record(ctx context.Context, rel release.Release) RecordResult {
	key := rel.Key()

	if err := o.ledger.FirstSeen(ctx, rel, o.now()); err != nil {
		return RecordResult{Outcome: OutcomeFailed, Err: err}
	}

	entry, err := o.ledger.Get(ctx, key)
	if err != nil {
		return RecordResult{Outcome: OutcomeFailed, Err: err}
	}
	if entry.Recorded {
		return RecordResult{Outcome: OutcomeDuplicate}
	}

	dir := filepath.Join(o.root, rel.Tier(), rel.PrimaryGenre())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return RecordResult{Outcome: OutcomeFailed, Err: fmt.Errorf("create release directory: %w", err)}
	}

	stem := filepath.Join(dir, rel.FileStem())
	if err := o.writeMagnetFile(stem+".magnet", rel); err != nil {
		return RecordResult{Outcome: OutcomeFailed, Err: err}
	}

	if err := o.ledger.MarkRecorded(ctx, key); err != nil {
		return RecordResult{Outcome: OutcomeFailed, Err: err}
	}

	if o.posters && rel.PosterURL != "" {
		if err := o.fetchPoster(ctx, rel.PosterURL, stem+".jpg"); err != nil {
			log.Warn().
				Err(err).
				Str("release", key).
				Str("title", rel.Title).
				Msg("Poster download failed, release recorded without poster")
		}
	}

	if o.csvIndex {
		if err := o.appendCSVIndex(rel); err != nil {
			log.Warn().
				Err(err).
				Str("release", key).
				Msg("Failed to append CSV index entry")
		}
	}

	return RecordResult{Outcome: OutcomeCreated}
}

func (o *Organizer) writeMagnetFile(path string, rel release.Release) error {
	doc := magnetDocument{
		MagnetLink: rel.Magnet(),
		Hash:       rel.Hash,
		MovieName:  rel.SanitizedTitle(),
		Year:       rel.Year,
		Rating:     rel.Rating,
		Quality:    rel.Resolution,
		ImdbID:     rel.ImdbID,
		MovieID:    strconv.Itoa(rel.ID),
		CreatedAt:  o.now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal magnet document: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write magnet file: %w", err)
	}
	return nil
}

func (o *Organizer) fetchPoster(ctx context.Context, posterURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, posterURL, nil)
	if err != nil {
		return fmt.Errorf("build poster request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("poster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poster request returned status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create poster file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxPosterBytes)); err != nil {
		os.Remove(path)
		return fmt.Errorf("write poster file: %w", err)
	}
	return nil
}

var csvHeader = []string{"Movie ID", "IMDb ID", "Title", "Year", "Language", "Rating", "Resolution", "Catalog URL"}

func (o *Organizer) appendCSVIndex(rel release.Release) error {
	path := filepath.Join(o.root, "releases.csv")

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open csv index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	record := []string{
		strconv.Itoa(rel.ID),
		rel.ImdbID,
		rel.Title,
		strconv.Itoa(rel.Year),
		rel.Language,
		strconv.FormatFloat(rel.Rating, 'f', 1, 64),
		rel.Resolution,
		rel.CatalogURL,
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}

	w.Flush()
	return w.Error()
}
