// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

// listResponse is the envelope returned by the YTS list_movies endpoint.
type listResponse struct {
	Status        string   `json:"status"`
	StatusMessage string   `json:"status_message"`
	Data          listData `json:"data"`
}

type listData struct {
	MovieCount int     `json:"movie_count"`
	Limit      int     `json:"limit"`
	PageNumber int     `json:"page_number"`
	Movies     []Movie `json:"movies"`
}

// Movie is one raw catalog listing entry. Fields are routinely missing or
// zero-valued in the wild; consumers must treat partial entries as
// non-matching, never as errors.
type Movie struct {
	ID              int       `json:"id"`
	URL             string    `json:"url"`
	ImdbCode        string    `json:"imdb_code"`
	Title           string    `json:"title"`
	TitleLong       string    `json:"title_long"`
	Year            int       `json:"year"`
	Rating          float64   `json:"rating"`
	Genres          []string  `json:"genres"`
	Language        string    `json:"language"`
	LargeCoverImage string    `json:"large_cover_image"`
	Torrents        []Torrent `json:"torrents"`
}

// Torrent is one resolution variant of a Movie.
type Torrent struct {
	URL       string `json:"url"`
	Hash      string `json:"hash"`
	Quality   string `json:"quality"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"size_bytes"`
}

// Page is the decoded result of one catalog listing request.
type Page struct {
	Number     int
	MovieCount int
	Movies     []Movie
}

// Exhausted reports whether this page signals the end of the listing.
func (p *Page) Exhausted() bool {
	return len(p.Movies) == 0
}
