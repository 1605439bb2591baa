// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package release holds the immutable Release model and its pure
// classification rules. Tier and genre derivation are deterministic functions
// of the release attributes so reclassification is always idempotent.
package release

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/reelherd/reelherd/internal/catalog"
)

// trackers is the fixed announce set baked into generated magnet links.
var trackers = []string{
	"udp://open.demonii.com:1337",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://torrent.gresille.org:80/announce",
	"udp://p4p.arenabg.com:1337",
	"udp://tracker.leechers-paradise.org:6969",
}

// illegalPathChars are stripped from titles before they become file names.
const illegalPathChars = `'/\:*?<>|"`

// Release is one (movie, resolution) catalog entry after classification.
// It is immutable once built; the (ID, Resolution) pair is the dedup key.
type Release struct {
	ID         int
	Resolution string

	Title     string
	TitleLong string
	Year      int
	Rating    float64
	Genres    []string
	Language  string
	ImdbID    string

	Hash       string
	TorrentURL string
	PosterURL  string
	CatalogURL string
}

// FromMovie builds a Release from a catalog entry and one of its resolution
// variants. Pure; performs no I/O.
func FromMovie(movie catalog.Movie, torrent catalog.Torrent) Release {
	return Release{
		ID:         movie.ID,
		Resolution: torrent.Quality,
		Title:      movie.Title,
		TitleLong:  movie.TitleLong,
		Year:       movie.Year,
		Rating:     movie.Rating,
		Genres:     append([]string(nil), movie.Genres...),
		Language:   movie.Language,
		ImdbID:     movie.ImdbCode,
		Hash:       strings.ToUpper(torrent.Hash),
		TorrentURL: torrent.URL,
		PosterURL:  movie.LargeCoverImage,
		CatalogURL: movie.URL,
	}
}

// Key returns the stable dedup identity: catalog ID plus resolution tag.
func (r Release) Key() string {
	return fmt.Sprintf("%d:%s", r.ID, r.Resolution)
}

// Tier returns the rating bucket label, e.g. rating 7.8 -> "7+".
func (r Release) Tier() string {
	tier := int(math.Floor(r.Rating))
	if tier < 0 {
		tier = 0
	}
	return fmt.Sprintf("%d+", tier)
}

// PrimaryGenre returns the first genre lower-cased, or "none" when the entry
// carries no genres.
func (r Release) PrimaryGenre() string {
	if len(r.Genres) == 0 {
		return "none"
	}
	genre := strings.ToLower(strings.TrimSpace(r.Genres[0]))
	if genre == "" {
		return "none"
	}
	return genre
}

// SanitizedTitle strips characters that are illegal in file and directory
// names from the long title.
func (r Release) SanitizedTitle() string {
	title := r.TitleLong
	if title == "" {
		title = r.Title
	}
	return strings.Map(func(c rune) rune {
		if strings.ContainsRune(illegalPathChars, c) {
			return -1
		}
		return c
	}, title)
}

// FileStem returns the deterministic per-release file name without
// extension: sanitized title, year, resolution tag and catalog identifier.
func (r Release) FileStem() string {
	return fmt.Sprintf("%s (%d) [%s]-%d", r.SanitizedTitle(), r.Year, r.Resolution, r.ID)
}

// Magnet builds the magnet URI from the torrent hash, display name and the
// fixed tracker set.
func (r Release) Magnet() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(r.Hash)
	b.WriteString("&dn=")
	b.WriteString(url.QueryEscape(r.SanitizedTitle()))
	for _, tracker := range trackers {
		b.WriteString("&tr=")
		b.WriteString(tracker)
	}
	return b.String()
}
