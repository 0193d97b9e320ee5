package webhooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/testutil"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	sub := newSub("wh_pg", "https://example.com/hook", EventAssessmentBlocked, EventAssessmentStepUp)
	sub.Accounts = []string{"ACC_001"}
	require.NoError(t, s.Create(ctx, sub))
	require.NoError(t, s.Create(ctx, newSub("wh_blocks", "https://example.com/blocks", EventBlockSealed)))

	got, err := s.Get(ctx, "wh_pg")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, []EventType{EventAssessmentBlocked, EventAssessmentStepUp}, got.Events)
	assert.Equal(t, []string{"ACC_001"}, got.Accounts)
	assert.True(t, got.CreatedAt.Equal(t0))

	byEvent, err := s.ListByEvent(ctx, EventAssessmentStepUp)
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, "wh_pg", byEvent[0].ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	for i := 0; i < maxConsecutiveFailures; i++ {
		require.NoError(t, s.RecordDelivery(ctx, "wh_pg", t0, "status 500"))
	}
	got, _ = s.Get(ctx, "wh_pg")
	assert.False(t, got.Active)
	assert.Equal(t, maxConsecutiveFailures, got.ConsecutiveFailures)

	byEvent, _ = s.ListByEvent(ctx, EventAssessmentStepUp)
	assert.Empty(t, byEvent)

	require.NoError(t, s.RecordDelivery(ctx, "wh_blocks", t0, ""))
	got, _ = s.Get(ctx, "wh_blocks")
	require.NotNil(t, got.LastSuccess)
	assert.Nil(t, got.Accounts)

	require.NoError(t, s.Delete(ctx, "wh_pg"))
	_, err = s.Get(ctx, "wh_pg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "wh_pg"), ErrNotFound)
	assert.ErrorIs(t, s.RecordDelivery(ctx, "wh_pg", t0, ""), ErrNotFound)
}
