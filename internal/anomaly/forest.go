// Package anomaly implements an isolation forest over transaction feature
// vectors [amount, lat, lon, hour].
//
// The forest is trained once from a seed corpus of normal transactions and is
// read-only afterwards, so Score is safe for concurrent use without locking.
package anomaly

import (
	"math"
	"math/rand/v2"
	"slices"
)

const (
	numFeatures    = 4
	eulerGamma     = 0.5772156649
	maxAutoSamples = 256
	defaultTrees   = 100
	defaultContam  = 0.1
)

// fallbackPoint is trained on when the seed corpus is empty.
var fallbackPoint = Features{Amount: 1000, Lat: 19.07, Lon: 72.87, Hour: 12}

// Features is a single observation.
type Features struct {
	Amount float64
	Lat    float64
	Lon    float64
	Hour   int
}

func (f Features) vector() [numFeatures]float64 {
	return [numFeatures]float64{f.Amount, f.Lat, f.Lon, float64(f.Hour)}
}

// Config holds forest hyperparameters. Zero values take defaults.
type Config struct {
	NEstimators   int
	Contamination float64
	RandomState   int64
	// MaxSamples of 0 means min(256, n).
	MaxSamples int
}

func (c Config) withDefaults() Config {
	if c.NEstimators <= 0 {
		c.NEstimators = defaultTrees
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		c.Contamination = defaultContam
	}
	return c
}

// node is either an internal split or a leaf holding size points.
type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	size    int
}

func (n *node) leaf() bool { return n.left == nil }

// Model is a trained isolation forest.
type Model struct {
	trees      []*node
	sampleSize int
	normalizer float64
	threshold  float64
	trainedOn  int
	usedSeed   bool
}

// Train fits a forest. It never fails: an empty corpus is replaced by a
// single synthetic point, and such a model flags nothing.
func Train(corpus []Features, cfg Config) *Model {
	cfg = cfg.withDefaults()

	m := &Model{}
	if len(corpus) == 0 {
		corpus = []Features{fallbackPoint}
		m.usedSeed = true
	}
	m.trainedOn = len(corpus)

	data := make([][numFeatures]float64, len(corpus))
	for i, f := range corpus {
		data[i] = f.vector()
	}

	psi := cfg.MaxSamples
	if psi <= 0 || psi > len(data) {
		psi = min(maxAutoSamples, len(data))
	}
	m.sampleSize = psi
	m.normalizer = averagePathLength(psi)
	if m.normalizer <= 0 {
		m.normalizer = 1
	}

	depthLimit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))
	seed := uint64(cfg.RandomState)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	m.trees = make([]*node, cfg.NEstimators)
	for t := range m.trees {
		sample := subsample(rng, data, psi)
		m.trees[t] = grow(rng, sample, 0, depthLimit)
	}

	scores := make([]float64, len(data))
	for i, x := range data {
		scores[i] = m.score(x)
	}
	m.threshold = quantile(scores, 1-cfg.Contamination)
	return m
}

// Score returns whether f is an outlier and its signed anomaly score
// (isolation score minus the training threshold; positive means anomalous).
func (m *Model) Score(f Features) (bool, float64) {
	s := m.score(f.vector())
	return s > m.threshold, s - m.threshold
}

// Threshold is the isolation score above which a point is anomalous.
func (m *Model) Threshold() float64 { return m.threshold }

// TrainedOn is the number of corpus points the model was fitted on.
func (m *Model) TrainedOn() int { return m.trainedOn }

// Trees is the ensemble size.
func (m *Model) Trees() int { return len(m.trees) }

// UsedFallback reports whether the corpus was empty at training time.
func (m *Model) UsedFallback() bool { return m.usedSeed }

func (m *Model) score(x [numFeatures]float64) float64 {
	var total float64
	for _, t := range m.trees {
		total += pathLength(t, x)
	}
	mean := total / float64(len(m.trees))
	return math.Pow(2, -mean/m.normalizer)
}

func pathLength(n *node, x [numFeatures]float64) float64 {
	depth := 0
	for !n.leaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

func grow(rng *rand.Rand, pts [][numFeatures]float64, depth, limit int) *node {
	if depth >= limit || len(pts) <= 1 {
		return &node{size: len(pts)}
	}

	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		for f := range numFeatures {
			lo[f] = math.Min(lo[f], p[f])
			hi[f] = math.Max(hi[f], p[f])
		}
	}
	candidates := make([]int, 0, numFeatures)
	for f := range numFeatures {
		if hi[f] > lo[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		// all points identical
		return &node{size: len(pts)}
	}

	f := candidates[rng.IntN(len(candidates))]
	split := lo[f] + rng.Float64()*(hi[f]-lo[f])
	if split <= lo[f] {
		split = math.Nextafter(lo[f], hi[f])
	}

	var left, right [][numFeatures]float64
	for _, p := range pts {
		if p[f] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &node{
		feature: f,
		split:   split,
		left:    grow(rng, left, depth+1, limit),
		right:   grow(rng, right, depth+1, limit),
	}
}

// subsample draws k points without replacement.
func subsample(rng *rand.Rand, data [][numFeatures]float64, k int) [][numFeatures]float64 {
	if k >= len(data) {
		out := make([][numFeatures]float64, len(data))
		copy(out, data)
		return out
	}
	idx := rng.Perm(len(data))[:k]
	out := make([][numFeatures]float64, k)
	for i, j := range idx {
		out[i] = data[j]
	}
	return out
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// quantile uses linear interpolation between closest ranks.
func quantile(values []float64, q float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
