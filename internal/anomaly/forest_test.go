package anomaly

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCorpus() []Features {
	return []Features{
		{Amount: 500, Lat: 19.07, Lon: 72.87, Hour: 10},
		{Amount: 2000, Lat: 19.07, Lon: 72.87, Hour: 14},
		{Amount: 50000, Lat: 12.97, Lon: 77.59, Hour: 11},
	}
}

// clusterCorpus is a deterministic cloud of ordinary daytime spending around
// one city.
func clusterCorpus() []Features {
	var out []Features
	for i := range 200 {
		out = append(out, Features{
			Amount: 400 + float64(i%20)*25,
			Lat:    19.0 + float64(i%7)*0.01,
			Lon:    72.8 + float64(i%11)*0.01,
			Hour:   9 + i%9,
		})
	}
	return out
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestQuantile(t *testing.T) {
	assert.Equal(t, 3.0, quantile([]float64{3}, 0.9))
	assert.InDelta(t, 2.8, quantile([]float64{3, 1, 2}, 0.9), 1e-12)
	assert.InDelta(t, 5.5, quantile([]float64{1, 10}, 0.5), 1e-12)
}

func TestTrain_EmptyCorpusFallsBack(t *testing.T) {
	m := Train(nil, Config{})
	require.NotNil(t, m)
	assert.True(t, m.UsedFallback())
	assert.Equal(t, 1, m.TrainedOn())
	assert.Equal(t, defaultTrees, m.Trees())

	for _, f := range []Features{fallbackPoint, {Amount: 1e9, Lat: -80, Lon: 170, Hour: 3}} {
		anomalous, score := m.Score(f)
		assert.False(t, anomalous, "single-point model must not flag %+v", f)
		assert.False(t, math.IsNaN(score))
	}
}

func TestTrain_Deterministic(t *testing.T) {
	cfg := Config{NEstimators: 50, Contamination: 0.1, RandomState: 42}
	a := Train(clusterCorpus(), cfg)
	b := Train(clusterCorpus(), cfg)

	assert.Equal(t, a.Threshold(), b.Threshold())
	sample := Features{Amount: 9000, Lat: 28.6, Lon: 77.2, Hour: 2}
	_, sa := a.Score(sample)
	_, sb := b.Score(sample)
	assert.Equal(t, sa, sb)
}

func TestScore_SeparatesOutlier(t *testing.T) {
	m := Train(clusterCorpus(), Config{RandomState: 42})

	anomalous, score := m.Score(Features{Amount: 250000, Lat: -33.9, Lon: 151.2, Hour: 3})
	assert.True(t, anomalous)
	assert.Greater(t, score, 0.0)

	anomalous, score = m.Score(Features{Amount: 600, Lat: 19.03, Lon: 72.85, Hour: 13})
	assert.False(t, anomalous)
	assert.LessOrEqual(t, score, 0.0)
}

func TestScore_ContaminationFractionOnTrainingSet(t *testing.T) {
	corpus := clusterCorpus()
	m := Train(corpus, Config{RandomState: 7, Contamination: 0.1})

	flagged := 0
	for _, f := range corpus {
		if ok, _ := m.Score(f); ok {
			flagged++
		}
	}
	// at most the top 10% of training scores sit above the threshold
	assert.LessOrEqual(t, flagged, len(corpus)/10)
}

func TestScore_SeedCorpusOrdinaryPoint(t *testing.T) {
	m := Train(seedCorpus(), Config{NEstimators: 100, Contamination: 0.1, RandomState: 42})

	anomalous, _ := m.Score(Features{Amount: 500, Lat: 19.07, Lon: 72.87, Hour: 10})
	assert.False(t, anomalous)
}

func TestScore_ConcurrentReads(t *testing.T) {
	m := Train(clusterCorpus(), Config{RandomState: 1})
	want, wantScore := m.Score(Features{Amount: 1000, Lat: 19, Lon: 72.9, Hour: 12})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				got, score := m.Score(Features{Amount: 1000, Lat: 19, Lon: 72.9, Hour: 12})
				if got != want || score != wantScore {
					t.Errorf("concurrent score mismatch")
					return
				}
			}
		}()
	}
	wg.Wait()
}
