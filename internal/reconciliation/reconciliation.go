// Package reconciliation re-checks the sealed audit chain for gaps and
// broken links between consecutive blocks.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/witness"
)

// DefaultWindow is how many of the newest blocks a run inspects.
const DefaultWindow = 500

// BlockLister returns recent blocks, newest first.
type BlockLister interface {
	Blocks(ctx context.Context, limit int) ([]*witness.Block, error)
}

// Break describes one inconsistency in the chain.
type Break struct {
	Height int64  `json:"height"`
	Reason string `json:"reason"`
}

// Report is the outcome of a chain check.
type Report struct {
	CheckedAt     time.Time `json:"checkedAt"`
	BlocksChecked int       `json:"blocksChecked"`
	LatestHeight  int64     `json:"latestHeight"`
	Intact        bool      `json:"intact"`
	Breaks        []Break   `json:"breaks"`
}

// Runner checks the audit chain and keeps the last report.
type Runner struct {
	blocks BlockLister
	window int
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last *Report
}

// Option configures a Runner.
type Option func(*Runner)

// WithWindow sets how many blocks each run inspects.
func WithWindow(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.window = n
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner creates a chain checker over blocks.
func NewRunner(blocks BlockLister, opts ...Option) *Runner {
	r := &Runner{
		blocks: blocks,
		window: DefaultWindow,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll walks the newest blocks and records every break it finds.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	blocks, err := r.blocks.Blocks(ctx, r.window)
	if err != nil {
		runErrors.Inc()
		return nil, fmt.Errorf("list audit blocks: %w", err)
	}

	rep := CheckChain(blocks)
	rep.CheckedAt = r.now().UTC()

	chainBreaks.Set(float64(len(rep.Breaks)))
	blocksChecked.Set(float64(rep.BlocksChecked))
	if !rep.Intact {
		r.logger.Error("audit chain inconsistent",
			"breaks", len(rep.Breaks), "latest_height", rep.LatestHeight)
	}

	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()
	return rep, nil
}

// Last returns the most recent report, or nil before the first run.
func (r *Runner) Last() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// CheckChain validates blocks ordered newest first. Each block must sit
// one height above its predecessor and name that predecessor's root; the
// first block must descend from the genesis root.
func CheckChain(blocks []*witness.Block) *Report {
	rep := &Report{BlocksChecked: len(blocks), Breaks: []Break{}}
	if len(blocks) > 0 {
		rep.LatestHeight = blocks[0].Height
	}

	for i, b := range blocks {
		if len(b.Root) != len(witness.GenesisRoot) {
			rep.Breaks = append(rep.Breaks, Break{b.Height, "malformed merkle root"})
		}
		if b.TransactionCount <= 0 {
			rep.Breaks = append(rep.Breaks, Break{b.Height, "empty block"})
		}

		if i+1 == len(blocks) {
			if b.Height == 1 && b.PrevRoot != witness.GenesisRoot {
				rep.Breaks = append(rep.Breaks, Break{b.Height, "first block does not link to genesis"})
			}
			continue
		}

		prev := blocks[i+1]
		if prev.Height != b.Height-1 {
			rep.Breaks = append(rep.Breaks, Break{
				b.Height, fmt.Sprintf("height gap: previous block is %d", prev.Height),
			})
			continue
		}
		if b.PrevRoot != prev.Root {
			rep.Breaks = append(rep.Breaks, Break{
				b.Height, fmt.Sprintf("previous root does not match block %d", prev.Height),
			})
		}
	}

	rep.Intact = len(rep.Breaks) == 0
	return rep
}
