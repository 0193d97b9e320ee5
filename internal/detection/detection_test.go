package detection

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/velocity"
)

func ptr(v float64) *float64 { return &v }

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 111.195, haversineKm(0, 0, 0, 1), 0.001)
	assert.Zero(t, haversineKm(19.076, 72.8777, 19.076, 72.8777))
	// Mumbai to London.
	assert.InDelta(t, 7190, haversineKm(19.076, 72.8777, 51.5074, -0.1278), 100)
}

func TestTravelSpeed_Degenerate(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		hours                  float64
	}{
		{"zero hours", 0, 0, 10, 10, 0},
		{"negative hours", 0, 0, 10, 10, -1},
		{"nan latitude", math.NaN(), 0, 10, 10, 1},
		{"latitude out of range", 0, 0, 91, 10, 1},
		{"longitude out of range", 0, 0, 10, -181, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, TravelSpeed(tt.lat1, tt.lon1, tt.lat2, tt.lon2, tt.hours))
		})
	}
}

func TestTravelDetector(t *testing.T) {
	d := NewTravelDetector(900)
	home := NewProfiles(nil).Lookup("anyone")

	sig := d.Check(home, 51.5074, -0.1278, 1)
	assert.True(t, sig.Triggered)
	assert.Contains(t, sig.Reason, "Impossible travel detected: ")
	assert.Contains(t, sig.Reason, " km/h exceeds maximum 900 km/h")

	sig = d.Check(home, 51.5074, -0.1278, 10)
	assert.False(t, sig.Triggered, "ten hours is enough for a flight")
	assert.Empty(t, sig.Reason)

	sig = d.Check(home, DefaultHomeLat, DefaultHomeLon, 1)
	assert.False(t, sig.Triggered)
	assert.Zero(t, sig.Value)
}

func TestStructuringDetector(t *testing.T) {
	d := NewStructuringDetector([]float64{10000, 50000, 100000}, 500)

	tests := []struct {
		amount string
		want   bool
	}{
		{"9400", false},
		{"9500", false},
		{"9500.01", true},
		{"9800", true},
		{"9999", true},
		{"10000", false},
		{"49600", true},
		{"99999.99", true},
		{"100000", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Check(amt(tt.amount)).Triggered)
		})
	}

	sig := d.Check(amt("9800"))
	assert.Equal(t, "Potential structuring: Amount 9800 suspiciously close to 10000 reporting threshold", sig.Reason)
}

func TestCheckAmountDeviation(t *testing.T) {
	def := NewProfiles(nil).Lookup("unknown")

	assert.False(t, CheckAmountDeviation(def, amt("100000")).Triggered, "exactly twice is not a deviation")

	sig := CheckAmountDeviation(def, amt("100001"))
	assert.True(t, sig.Triggered)
	assert.Equal(t, "Amount 100001 is 2.0x user's typical maximum (50000)", sig.Reason)

	low := NewProfiles(map[string]config.UserProfile{
		"acc": {TypicalMaxAmount: ptr(1000)},
	}).Lookup("acc")
	sig = CheckAmountDeviation(low, amt("2500"))
	assert.Equal(t, "Amount 2500 is 2.5x user's typical maximum (1000)", sig.Reason)
	assert.InDelta(t, 2.5, sig.Value, 1e-9)
}

func TestCheckOddHour(t *testing.T) {
	for h := 0; h < 24; h++ {
		assert.Equal(t, h >= 1 && h <= 5, CheckOddHour(h).Triggered, "hour %d", h)
	}
	assert.Equal(t, "Transaction at unusual hour (3:00) - potential account compromise", CheckOddHour(3).Reason)
}

func TestProfiles(t *testing.T) {
	p := NewProfiles(map[string]config.UserProfile{
		"full":    {HomeLat: ptr(12.97), HomeLon: ptr(77.59), TypicalMaxAmount: ptr(200000)},
		"partial": {TypicalMaxAmount: ptr(5000)},
	})

	full := p.Lookup("full")
	assert.True(t, full.Known)
	assert.Equal(t, 12.97, full.HomeLat)
	assert.True(t, full.TypicalMaxAmount.Equal(decimal.NewFromInt(200000)))

	partial := p.Lookup("partial")
	assert.Equal(t, DefaultHomeLat, partial.HomeLat)
	assert.Equal(t, DefaultHomeLon, partial.HomeLon)

	unknown := p.Lookup("nobody")
	assert.False(t, unknown.Known)
	assert.True(t, unknown.TypicalMaxAmount.Equal(decimal.NewFromInt(DefaultTypicalMaxAmount)))
	assert.Equal(t, 2, p.Len())
}

func TestTrustEdges_DefaultWeight(t *testing.T) {
	edges := TrustEdges([]config.TrustEdge{
		{From: "a", To: "b"},
		{From: "a", To: "c", TrustScore: ptr(0.9)},
	})
	require.Len(t, edges, 2)
	assert.Equal(t, 0.5, edges[0].Trust)
	assert.Equal(t, 0.9, edges[1].Trust)
}

func TestDetector_OrdinaryTransaction(t *testing.T) {
	d := FromConfig(config.DefaultEngineConfig(), velocity.NewMemoryStore())

	f, err := d.Evaluate(context.Background(), Transaction{
		Sender:         "user_1",
		Receiver:       "merchant_1",
		Amount:         amt("500"),
		Lat:            DefaultHomeLat,
		Lon:            DefaultHomeLon,
		Hour:           10,
		HoursSinceLast: DefaultTravelHours,
	})
	require.NoError(t, err)
	require.Len(t, f, len(Layers))
	for i, s := range f {
		assert.Equal(t, Layers[i], s.Layer)
	}
	assert.Equal(t, []Layer{LayerBeneficiary}, f.Triggered())

	sig, ok := f.Get(LayerBeneficiary)
	require.True(t, ok)
	assert.Equal(t, "Unknown beneficiary: 'merchant_1' not in trust network (isolated node)", sig.Reason)
}

func TestDetector_ManyLayers(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Model.TransactionVelocity.MaxTransactions = 1
	cfg.Profiles.Accounts["acc"] = config.UserProfile{TypicalMaxAmount: ptr(1000)}
	cfg.TrustGraph.Edges = []config.TrustEdge{{From: "someone", To: "shop"}}
	d := FromConfig(cfg, velocity.NewMemoryStore())

	tx := Transaction{
		Sender:         "acc",
		Receiver:       "shop",
		Amount:         amt("9800"),
		Lat:            51.5074,
		Lon:            -0.1278,
		Hour:           3,
		HoursSinceLast: DefaultTravelHours,
	}
	_, err := d.Evaluate(context.Background(), tx)
	require.NoError(t, err)
	f, err := d.Evaluate(context.Background(), tx)
	require.NoError(t, err)

	got := f.Triggered()
	for _, l := range []Layer{LayerImpossibleTravel, LayerBeneficiary, LayerVelocity, LayerStructuring, LayerAmountDeviation, LayerOddHour} {
		assert.Contains(t, got, l)
	}
	sig, _ := f.Get(LayerBeneficiary)
	assert.Equal(t, "No direct trust relationship between acc and shop", sig.Reason)
	assert.Equal(t, 0.2, sig.Value)
}

type brokenStore struct{}

func (brokenStore) RecordAndCount(context.Context, string, time.Time, time.Duration) (int, error) {
	return 0, velocity.ErrStoreUnavailable
}

func TestDetector_VelocityStoreError(t *testing.T) {
	d := FromConfig(config.DefaultEngineConfig(), brokenStore{})

	f, err := d.Evaluate(context.Background(), Transaction{Sender: "a", Receiver: "b", HoursSinceLast: 1})
	assert.ErrorIs(t, err, velocity.ErrStoreUnavailable)
	assert.Nil(t, f)
}

func TestDetector_Report(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.TrustGraph.Edges = []config.TrustEdge{{From: "a", To: "b"}, {From: "b", To: "c"}}
	r := FromConfig(cfg, velocity.NewMemoryStore()).Report()

	assert.True(t, r.ModelLoaded)
	assert.Equal(t, 100, r.Trees)
	assert.Equal(t, 3, r.TrainedOn)
	assert.Equal(t, 3, r.GraphNodes)
	assert.Equal(t, 2, r.GraphEdges)
}
