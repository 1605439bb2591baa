// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMinYear(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lookback int
		want     int
	}{
		{name: "two year window", lookback: 2, want: 2023},
		{name: "current year only", lookback: 0, want: 0},
		{name: "negative disables filter", lookback: -1, want: 0},
		{name: "one year window", lookback: 1, want: 2024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{YearLookback: tt.lookback}
			assert.Equal(t, tt.want, c.MinYear(now))
		})
	}
}
