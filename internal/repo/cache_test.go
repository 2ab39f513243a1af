package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/testutil"
)

func TestLocalCache_EmptyCache(t *testing.T) {
	c := testutil.NewLocalCache(t)

	got, err := c.ReadCache(context.Background(), "u1")

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalCache_WriteAndRead(t *testing.T) {
	c := testutil.NewLocalCache(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	trips := []domain.Trip{tripFixture(2, base.Add(time.Hour)), tripFixture(1, base)}

	require.NoError(t, c.WriteCache(ctx, "u1", trips))

	got, err := c.ReadCache(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, domain.SchemaVersion, got[0].SchemaVersion)
	assert.Equal(t, trips[0].RouteCoordinates, got[0].RouteCoordinates)

	other, err := c.ReadCache(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other, "cache is keyed by user")
}

func TestLocalCache_AppendCachedReplacesSameID(t *testing.T) {
	c := testutil.NewLocalCache(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, c.AppendCached(ctx, "u1", tripFixture(1, base)))
	require.NoError(t, c.AppendCached(ctx, "u1", tripFixture(2, base.Add(time.Hour))))

	updated := tripFixture(1, base)
	updated.DocID = "doc-1"
	require.NoError(t, c.AppendCached(ctx, "u1", updated))

	got, err := c.ReadCache(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID, "most recent first")
	assert.Equal(t, "doc-1", got[1].DocID)
}

func TestLocalCache_Draft(t *testing.T) {
	c := testutil.NewLocalCache(t)
	ctx := context.Background()

	_, err := c.ReadDraft(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	active := tripFixture(9, time.Now().UTC())
	active.EndTime = nil
	require.NoError(t, c.WriteDraft(ctx, "u1", active))

	raw, err := c.ReadDraft(ctx, "u1")
	require.NoError(t, err)
	decoded, err := domain.DecodeTrip(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(9), decoded.ID)
	assert.True(t, decoded.Active())

	require.NoError(t, c.ClearDraft(ctx, "u1"))
	require.NoError(t, c.ClearDraft(ctx, "u1"))
	_, err = c.ReadDraft(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
