// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package release

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelherd/reelherd/internal/catalog"
)

func TestFromMovie(t *testing.T) {
	movie := catalog.Movie{
		ID:              57427,
		URL:             "https://example.com/movies/inception-2010",
		ImdbCode:        "tt1375666",
		Title:           "Inception",
		TitleLong:       "Inception (2010)",
		Year:            2010,
		Rating:          8.8,
		Genres:          []string{"Action", "Sci-Fi"},
		Language:        "en",
		LargeCoverImage: "https://example.com/covers/inception.jpg",
	}
	torrent := catalog.Torrent{
		URL:     "https://example.com/torrents/abc",
		Hash:    "deadbeefcafe0123456789abcdef0123456789ab",
		Quality: "2160p",
	}

	rel := FromMovie(movie, torrent)

	assert.Equal(t, 57427, rel.ID)
	assert.Equal(t, "2160p", rel.Resolution)
	assert.Equal(t, "57427:2160p", rel.Key())
	assert.Equal(t, "DEADBEEFCAFE0123456789ABCDEF0123456789AB", rel.Hash, "hash is normalized to upper case")
	assert.Equal(t, []string{"Action", "Sci-Fi"}, rel.Genres)
	assert.Equal(t, "tt1375666", rel.ImdbID)

	// The genre slice must be a copy, not an alias of the catalog entry.
	movie.Genres[0] = "Mutated"
	assert.Equal(t, "Action", rel.Genres[0])
}

func TestTier(t *testing.T) {
	tests := []struct {
		name   string
		rating float64
		want   string
	}{
		{name: "mid tier", rating: 7.8, want: "7+"},
		{name: "exact integer", rating: 7.0, want: "7+"},
		{name: "just below next tier", rating: 7.999, want: "7+"},
		{name: "top tier", rating: 9.3, want: "9+"},
		{name: "perfect score", rating: 10.0, want: "10+"},
		{name: "zero", rating: 0, want: "0+"},
		{name: "negative clamps to zero", rating: -1.5, want: "0+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := Release{Rating: tt.rating}
			assert.Equal(t, tt.want, rel.Tier())
		})
	}
}

func TestPrimaryGenre(t *testing.T) {
	tests := []struct {
		name   string
		genres []string
		want   string
	}{
		{name: "first genre lowercased", genres: []string{"Drama", "Thriller"}, want: "drama"},
		{name: "single genre", genres: []string{"Horror"}, want: "horror"},
		{name: "no genres", genres: nil, want: "none"},
		{name: "empty list", genres: []string{}, want: "none"},
		{name: "blank first genre", genres: []string{"  "}, want: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := Release{Genres: tt.genres}
			assert.Equal(t, tt.want, rel.PrimaryGenre())
		})
	}
}

func TestSanitizedTitle(t *testing.T) {
	tests := []struct {
		name string
		rel  Release
		want string
	}{
		{
			name: "strips illegal characters",
			rel:  Release{TitleLong: `What's Up: Doc? (1972)`},
			want: "Whats Up Doc (1972)",
		},
		{
			name: "plain title unchanged",
			rel:  Release{TitleLong: "Heat (1995)"},
			want: "Heat (1995)",
		},
		{
			name: "falls back to short title",
			rel:  Release{Title: "Alien"},
			want: "Alien",
		},
		{
			name: "slashes and pipes removed",
			rel:  Release{TitleLong: `Face/Off <Director|Cut>`},
			want: "FaceOff DirectorCut",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rel.SanitizedTitle())
		})
	}
}

func TestFileStem(t *testing.T) {
	rel := Release{
		ID:         42,
		Resolution: "2160p",
		TitleLong:  "Blade Runner (1982)",
		Year:       1982,
	}
	assert.Equal(t, "Blade Runner (1982) (1982) [2160p]-42", rel.FileStem())
}

func TestMagnet(t *testing.T) {
	rel := Release{
		ID:         1,
		Resolution: "2160p",
		TitleLong:  "The Thing (1982)",
		Hash:       "ABCDEF0123456789ABCDEF0123456789ABCDEF01",
	}

	magnet := rel.Magnet()

	require.True(t, strings.HasPrefix(magnet, "magnet:?xt=urn:btih:ABCDEF0123456789ABCDEF0123456789ABCDEF01"))
	assert.Contains(t, magnet, "&dn=The+Thing+%281982%29")
	assert.Equal(t, len(trackers), strings.Count(magnet, "&tr="), "every tracker is announced")
	assert.Contains(t, magnet, "&tr=udp://open.demonii.com:1337")
	assert.Contains(t, magnet, "&tr=udp://tracker.leechers-paradise.org:6969")
}

func TestMagnetDeterministic(t *testing.T) {
	rel := Release{ID: 7, Resolution: "1080p", Title: "Ran", Hash: "AA"}
	assert.Equal(t, rel.Magnet(), rel.Magnet())
}
