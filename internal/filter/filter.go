// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filter applies the quality predicates that decide which catalog
// entries enter the pipeline. Everything here is pure and total: a partial
// or malformed entry is a non-match, never an error, because the catalog
// routinely serves incomplete listings and a single bad entry must not
// abort a run.
package filter

import "github.com/reelherd/reelherd/internal/catalog"

// Criteria holds the quality thresholds for one run.
type Criteria struct {
	Resolution string
	MinRating  float64
	MinYear    int // zero disables the year check
}

// Matches reports whether a (movie, torrent) pair qualifies. The rating
// threshold is inclusive: an entry at exactly MinRating passes.
func Matches(movie catalog.Movie, torrent catalog.Torrent, criteria Criteria) bool {
	if torrent.Quality == "" || torrent.Quality != criteria.Resolution {
		return false
	}
	if torrent.Hash == "" {
		return false
	}
	if movie.ID <= 0 {
		return false
	}
	if movie.Title == "" && movie.TitleLong == "" {
		return false
	}
	// Rating and year are required fields; they decode as zero when the
	// catalog omits them.
	if movie.Rating <= 0 || movie.Year <= 0 {
		return false
	}
	if movie.Rating < criteria.MinRating {
		return false
	}
	if criteria.MinYear > 0 && movie.Year < criteria.MinYear {
		return false
	}
	return true
}
