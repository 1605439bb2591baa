// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelherd/reelherd/internal/release"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testRelease(id int) release.Release {
	return release.Release{
		ID:         id,
		Resolution: "2160p",
		Title:      fmt.Sprintf("Movie %d", id),
		TitleLong:  fmt.Sprintf("Movie %d (2024)", id),
		Year:       2024,
		Rating:     7.8,
		Genres:     []string{"Drama"},
		Hash:       fmt.Sprintf("HASH%036d", id),
	}
}

func TestFirstSeenAndGet(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rel := testRelease(1)
	seen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.FirstSeen(ctx, rel, seen))

	entry, err := l.Get(ctx, rel.Key())
	require.NoError(t, err)

	assert.Equal(t, "1:2160p", entry.Key)
	assert.Equal(t, 1, entry.MovieID)
	assert.Equal(t, "2160p", entry.Resolution)
	assert.Equal(t, "7+", entry.Tier)
	assert.Equal(t, "drama", entry.Genre)
	assert.Equal(t, rel.Hash, entry.Hash)
	assert.Equal(t, rel.Magnet(), entry.Magnet)
	assert.False(t, entry.Recorded)
	assert.False(t, entry.Uploaded)
	assert.Zero(t, entry.UploadAttempts)
}

func TestFirstSeenPreservesOriginalSighting(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rel := testRelease(1)
	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	require.NoError(t, l.FirstSeen(ctx, rel, first))
	require.NoError(t, l.FirstSeen(ctx, rel, later))

	entry, err := l.Get(ctx, rel.Key())
	require.NoError(t, err)
	assert.WithinDuration(t, first, entry.SeenAt, time.Second)
}

func TestGetNotFound(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.Get(context.Background(), "999:2160p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkRecorded(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rel := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, rel, time.Now()))
	require.NoError(t, l.MarkRecorded(ctx, rel.Key()))

	entry, err := l.Get(ctx, rel.Key())
	require.NoError(t, err)
	assert.True(t, entry.Recorded)
}

func TestMarkRecordedUnknownKey(t *testing.T) {
	l := openTestLedger(t)

	err := l.MarkRecorded(context.Background(), "999:2160p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkUploadedAtMostOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rel := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, rel, time.Now()))
	require.NoError(t, l.MarkRecorded(ctx, rel.Key()))

	won, err := l.MarkUploaded(ctx, rel.Key())
	require.NoError(t, err)
	assert.True(t, won, "first transition wins")

	won, err = l.MarkUploaded(ctx, rel.Key())
	require.NoError(t, err)
	assert.False(t, won, "second transition must lose")

	entry, err := l.Get(ctx, rel.Key())
	require.NoError(t, err)
	assert.True(t, entry.Uploaded)
}

func TestMarkUploadedClearsLastError(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rel := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, rel, time.Now()))

	_, err := l.RecordFailure(ctx, rel.Key(), "connection reset")
	require.NoError(t, err)

	won, err := l.MarkUploaded(ctx, rel.Key())
	require.NoError(t, err)
	require.True(t, won)

	entry, err := l.Get(ctx, rel.Key())
	require.NoError(t, err)
	assert.Empty(t, entry.LastError)
}

func TestRecordFailure(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rel := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, rel, time.Now()))

	attempts, err := l.RecordFailure(ctx, rel.Key(), "503 from upstream")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = l.RecordFailure(ctx, rel.Key(), "timeout")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	entry, err := l.Get(ctx, rel.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, entry.UploadAttempts)
	assert.Equal(t, "timeout", entry.LastError)
}

func TestSelectBatchFIFO(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Insert newest first to prove ordering comes from seen_at, not insert order.
	for i := 3; i >= 1; i-- {
		rel := testRelease(i)
		require.NoError(t, l.FirstSeen(ctx, rel, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, l.MarkRecorded(ctx, rel.Key()))
	}

	batch, err := l.SelectBatch(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, "1:2160p", batch[0].Key)
	assert.Equal(t, "2:2160p", batch[1].Key)
	assert.Equal(t, "3:2160p", batch[2].Key)
}

func TestSelectBatchEligibility(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	// Recorded and pending: eligible.
	pending := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, pending, now))
	require.NoError(t, l.MarkRecorded(ctx, pending.Key()))

	// Seen but never recorded: not eligible.
	unrecorded := testRelease(2)
	require.NoError(t, l.FirstSeen(ctx, unrecorded, now))

	// Already uploaded: not eligible.
	uploaded := testRelease(3)
	require.NoError(t, l.FirstSeen(ctx, uploaded, now))
	require.NoError(t, l.MarkRecorded(ctx, uploaded.Key()))
	_, err := l.MarkUploaded(ctx, uploaded.Key())
	require.NoError(t, err)

	// At the attempt cap: not eligible.
	terminal := testRelease(4)
	require.NoError(t, l.FirstSeen(ctx, terminal, now))
	require.NoError(t, l.MarkRecorded(ctx, terminal.Key()))
	for i := 0; i < 5; i++ {
		_, err := l.RecordFailure(ctx, terminal.Key(), "rejected")
		require.NoError(t, err)
	}

	batch, err := l.SelectBatch(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, pending.Key(), batch[0].Key)
}

func TestSelectBatchLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		rel := testRelease(i)
		require.NoError(t, l.FirstSeen(ctx, rel, time.Now()))
		require.NoError(t, l.MarkRecorded(ctx, rel.Key()))
	}

	batch, err := l.SelectBatch(ctx, 20, 5)
	require.NoError(t, err)
	assert.Len(t, batch, 20)
}

func TestStats(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	recorded := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, recorded, now))
	require.NoError(t, l.MarkRecorded(ctx, recorded.Key()))

	uploaded := testRelease(2)
	require.NoError(t, l.FirstSeen(ctx, uploaded, now))
	require.NoError(t, l.MarkRecorded(ctx, uploaded.Key()))
	_, err := l.MarkUploaded(ctx, uploaded.Key())
	require.NoError(t, err)

	terminal := testRelease(3)
	require.NoError(t, l.FirstSeen(ctx, terminal, now))
	require.NoError(t, l.MarkRecorded(ctx, terminal.Key()))
	for i := 0; i < 5; i++ {
		_, err := l.RecordFailure(ctx, terminal.Key(), "rejected")
		require.NoError(t, err)
	}

	stats, err := l.Stats(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Recorded)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Terminal)
}

func TestPruneKeepsPending(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	pending := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, pending, old))
	require.NoError(t, l.MarkRecorded(ctx, pending.Key()))

	uploaded := testRelease(2)
	require.NoError(t, l.FirstSeen(ctx, uploaded, old))
	require.NoError(t, l.MarkRecorded(ctx, uploaded.Key()))
	_, err := l.MarkUploaded(ctx, uploaded.Key())
	require.NoError(t, err)

	terminal := testRelease(3)
	require.NoError(t, l.FirstSeen(ctx, terminal, old))
	require.NoError(t, l.MarkRecorded(ctx, terminal.Key()))
	for i := 0; i < 5; i++ {
		_, err := l.RecordFailure(ctx, terminal.Key(), "rejected")
		require.NoError(t, err)
	}

	recent := testRelease(4)
	require.NoError(t, l.FirstSeen(ctx, recent, time.Now()))
	require.NoError(t, l.MarkRecorded(ctx, recent.Key()))
	_, err = l.MarkUploaded(ctx, recent.Key())
	require.NoError(t, err)

	pruned, err := l.Prune(ctx, time.Now().Add(-24*time.Hour), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned, "old uploaded and old terminal entries are pruned")

	_, err = l.Get(ctx, pending.Key())
	assert.NoError(t, err, "pending entry survives pruning")

	_, err = l.Get(ctx, recent.Key())
	assert.NoError(t, err, "recent uploaded entry survives pruning")

	_, err = l.Get(ctx, uploaded.Key())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenPersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)

	rel := testRelease(1)
	require.NoError(t, l.FirstSeen(ctx, rel, time.Now()))
	require.NoError(t, l.MarkRecorded(ctx, rel.Key()))
	won, err := l.MarkUploaded(ctx, rel.Key())
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entry, err := reopened.Get(ctx, rel.Key())
	require.NoError(t, err)
	assert.True(t, entry.Uploaded)

	won, err = reopened.MarkUploaded(ctx, rel.Key())
	require.NoError(t, err)
	assert.False(t, won, "uploaded state survives reopening")
}
