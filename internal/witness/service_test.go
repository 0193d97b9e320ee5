package witness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/risk"
)

var sealTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type blockRecorder struct {
	mu     sync.Mutex
	blocks []*Block
}

func (r *blockRecorder) NotifyBlock(b *Block) {
	r.mu.Lock()
	r.blocks = append(r.blocks, b)
	r.mu.Unlock()
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	signer, err := NewSigner(testKey)
	require.NoError(t, err)
	store := NewMemoryStore()
	opts = append([]Option{WithLogger(logging.Discard()), WithClock(func() time.Time { return sealTime })}, opts...)
	svc, err := NewService(store, signer, opts...)
	require.NoError(t, err)
	return svc, store
}

func testEvent(amount string) Event {
	return NewEvent("alice", "bob", decimal.RequireFromString(amount), sealTime)
}

func TestEvent_Hash(t *testing.T) {
	ev := Event{
		ID:        "tx_1",
		From:      "alice",
		To:        "bob",
		Amount:    decimal.RequireFromString("12.50"),
		Timestamp: sealTime,
	}
	sum := sha256.Sum256([]byte("tx_1|alice|bob|12.5|2026-03-01T10:00:00Z"))
	assert.Equal(t, hex.EncodeToString(sum[:]), ev.Hash())

	ev.Amount = decimal.RequireFromString("12.51")
	assert.NotEqual(t, hex.EncodeToString(sum[:]), ev.Hash())
}

func TestNewEvent_TruncatesToMicroseconds(t *testing.T) {
	ev := NewEvent("a", "b", decimal.NewFromInt(1), sealTime.Add(1500*time.Nanosecond))
	assert.Equal(t, sealTime.Add(time.Microsecond), ev.Timestamp)
	assert.Regexp(t, `^tx_[0-9a-f]{32}$`, ev.ID)
}

func TestService_MerkleBatch(t *testing.T) {
	rec := &blockRecorder{}
	svc, _ := newTestService(t, WithBatchSize(3), WithNotifier(rec))
	ctx := context.Background()

	var ws []*Witness
	for i := 0; i < 2; i++ {
		w, err := svc.Seal(ctx, testEvent("10"), risk.StrategyMerkle)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, w.Status)
		ws = append(ws, w)
	}
	assert.Equal(t, 2, svc.Pending())

	_, ok, err := svc.Verify(ctx, ws[0].TransactionID())
	require.NoError(t, err)
	assert.False(t, ok, "pending witnesses never verify")

	w, err := svc.Seal(ctx, testEvent("10"), risk.StrategyMerkle)
	require.NoError(t, err)
	ws = append(ws, w)
	assert.Equal(t, 0, svc.Pending())

	assert.Equal(t, StatusSealed, w.Status)
	assert.Equal(t, StatusPending, ws[0].Status, "returned witnesses are snapshots")

	for _, w := range ws {
		got, ok, err := svc.Verify(ctx, w.TransactionID())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, StatusSealed, got.Status)
		assert.Equal(t, int64(1), got.BlockHeight)
		require.NotNil(t, got.SealedAt)
		assert.Len(t, got.Proof, 2)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.blocks, 1)
	assert.Equal(t, GenesisRoot, rec.blocks[0].PrevRoot)
	assert.Equal(t, 3, rec.blocks[0].TransactionCount)
	assert.Equal(t, risk.StrategyMerkle, rec.blocks[0].Strategy)
}

func TestService_FlushSealsPartialBatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Flush(ctx))

	w, err := svc.Seal(ctx, testEvent("10"), risk.StrategyMerkle)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 0, svc.Pending())

	got, ok, err := svc.Verify(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusSealed, got.Status)
	assert.Equal(t, w.EventHash, got.MerkleRoot)
}

func TestService_TSA(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Seal(ctx, testEvent("5000"), risk.StrategyTSA)
	require.NoError(t, err)
	assert.Equal(t, StatusSealed, w.Status)
	require.Len(t, w.Signatures, 1)
	assert.Equal(t, svc.Signers()[0], w.Signatures[0].Signer)
	assert.Equal(t, w.EventHash+":2026-03-01T10:00:00Z:"+w.TransactionID(), w.SignedPayload)
	assert.Equal(t, w.EventHash, w.MerkleRoot)

	_, ok, err := svc.Verify(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Multisig(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Seal(ctx, testEvent("90000"), risk.StrategyMultisig)
	require.NoError(t, err)
	require.Len(t, w.Signatures, 2)
	assert.Len(t, svc.Signers(), 3)
	assert.NotEqual(t, w.Signatures[0].Signer, w.Signatures[1].Signer)

	_, ok, err := svc.Verify(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_MultisigNeedsDistinctSigners(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	w, err := svc.Seal(ctx, testEvent("90000"), risk.StrategyMultisig)
	require.NoError(t, err)

	w.Signatures[1] = w.Signatures[0]
	require.NoError(t, store.SaveWitness(ctx, w))

	_, ok, err := svc.Verify(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_TamperedEventFailsVerify(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	w, err := svc.Seal(ctx, testEvent("5000"), risk.StrategyTSA)
	require.NoError(t, err)

	w.Event.Amount = decimal.RequireFromString("50")
	require.NoError(t, store.SaveWitness(ctx, w))

	_, ok, err := svc.Verify(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ForeignSignatureFailsVerify(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	w, err := svc.Seal(ctx, testEvent("5000"), risk.StrategyTSA)
	require.NoError(t, err)

	stranger, err := GenerateSigner()
	require.NoError(t, err)
	sig, err := stranger.Sign(w.SignedPayload)
	require.NoError(t, err)
	w.Signatures = []Signature{sig}
	require.NoError(t, store.SaveWitness(ctx, w))

	_, ok, err := svc.Verify(ctx, w.TransactionID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ChainsBlocks(t *testing.T) {
	svc, _ := newTestService(t, WithBatchSize(2))
	ctx := context.Background()

	_, err := svc.Seal(ctx, testEvent("5000"), risk.StrategyTSA)
	require.NoError(t, err)
	_, err = svc.Seal(ctx, testEvent("1"), risk.StrategyMerkle)
	require.NoError(t, err)
	_, err = svc.Seal(ctx, testEvent("2"), risk.StrategyMerkle)
	require.NoError(t, err)
	_, err = svc.Seal(ctx, testEvent("90000"), risk.StrategyMultisig)
	require.NoError(t, err)

	blocks, err := svc.Blocks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, int64(3), blocks[0].Height)
	assert.Equal(t, int64(1), blocks[2].Height)
	assert.Equal(t, GenesisRoot, blocks[2].PrevRoot)
	assert.Equal(t, blocks[2].Root, blocks[1].PrevRoot)
	assert.Equal(t, blocks[1].Root, blocks[0].PrevRoot)
}

func TestService_ProcessBlocked(t *testing.T) {
	svc, _ := newTestService(t)

	w, err := svc.Process(context.Background(), testEvent("1"), risk.DecisionBlocked, risk.StrategyMultisig)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Nil(t, w)

	w, err = svc.Process(context.Background(), testEvent("1"), risk.DecisionReview, risk.StrategyTSA)
	require.NoError(t, err)
	assert.Equal(t, StatusSealed, w.Status)
}

func TestService_UnknownStrategy(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Seal(context.Background(), testEvent("1"), risk.Strategy("CARRIER_PIGEON"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestService_GetUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "tx_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.Verify(context.Background(), "tx_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ConcurrentSeals(t *testing.T) {
	svc, _ := newTestService(t, WithBatchSize(4))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			strategy := risk.StrategyMerkle
			if i%5 == 0 {
				strategy = risk.StrategyTSA
			}
			_, err := svc.Seal(ctx, testEvent("1"), strategy)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.NoError(t, svc.Flush(ctx))

	blocks, err := svc.Blocks(ctx, 100)
	require.NoError(t, err)
	for i, b := range blocks {
		assert.Equal(t, int64(len(blocks)-i), b.Height)
	}
}
