package witness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/risk"
)

func TestMemoryStore_RejectsOutOfSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	latest, err := s.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	err = s.AppendBlock(ctx, &Block{Height: 2, Strategy: risk.StrategyTSA}, nil)
	assert.Error(t, err)

	require.NoError(t, s.AppendBlock(ctx, &Block{Height: 1, Root: "r1", PrevRoot: GenesisRoot}, nil))
	latest, err = s.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.Root)

	_, err = s.GetBlock(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_WitnessCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w := &Witness{Event: testEvent("1"), Signatures: []Signature{{Signer: "a", Value: "v"}}}
	w.EventHash = w.Event.Hash()
	require.NoError(t, s.SaveWitness(ctx, w))
	w.Signatures[0].Signer = "mutated"

	got, err := s.GetWitness(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.Equal(t, "a", got.Signatures[0].Signer)
}
