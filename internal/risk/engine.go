package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/detection"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/pagination"
	"github.com/mbd888/sentinel/internal/retry"
	"github.com/mbd888/sentinel/internal/traces"
)

const recordTimeout = 5 * time.Second

// Engine runs detection and aggregation for one transaction at a time. It
// is safe for concurrent use.
type Engine struct {
	detector   *detection.Detector
	aggregator *Aggregator
	store      Store
	notifiers  []Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore records every assessment to s, asynchronously and best-effort.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithNotifier publishes every assessment to n. It may be given more than
// once.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock sets the time source used for timestamps and the default hour.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine over detector, scoring with cfg's weights
// and thresholds.
func NewEngine(detector *detection.Detector, cfg *config.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		detector:   detector,
		aggregator: NewAggregator(cfg.Weights, cfg.Thresholds),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Detector returns the underlying detector.
func (e *Engine) Detector() *detection.Detector { return e.detector }

// Analyze scores req. Errors mean no assessment was produced; callers
// answer them with ErrorAssessment.
func (e *Engine) Analyze(ctx context.Context, req Request) (*Assessment, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		metrics.AssessmentErrorsTotal.Inc()
		e.logger.Warn("analysis failed", "account", req.From, "error", err)
		return nil, err
	}

	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "risk.Analyze",
		traces.Account(req.From), traces.Counterparty(req.To), traces.Amount(req.Amount.String()))
	defer span.End()

	a, err := e.analyze(ctx, req)
	if err != nil {
		metrics.AssessmentErrorsTotal.Inc()
		span.RecordError(err)
		e.logger.Warn("analysis failed", "account", req.From, "error", err)
		return nil, err
	}
	span.SetAttributes(traces.Score(a.Score), traces.Decision(string(a.Decision)), traces.Strategy(string(a.Strategy)))

	metrics.AssessmentsTotal.WithLabelValues(string(a.Decision)).Inc()
	metrics.AssessmentScore.Observe(a.Score)
	metrics.AssessmentDuration.Observe(time.Since(start).Seconds())
	for layer := range a.Breakdown {
		metrics.LayerTriggersTotal.WithLabelValues(layer).Inc()
	}

	e.logger.Info("transaction analyzed",
		"id", a.ID, "account", req.From, "to", req.To,
		"score", a.Score, "decision", a.Decision, "layers", a.LayersTriggered)

	e.publish(NewRecord(req, a))
	return a, nil
}

func (e *Engine) analyze(ctx context.Context, req Request) (*Assessment, error) {
	now := e.now()
	hour := now.Hour()
	if req.Hour != nil {
		if *req.Hour < 0 || *req.Hour > 23 {
			return nil, ErrInvalidHour
		}
		hour = *req.Hour
	}
	hours := detection.DefaultTravelHours
	if req.HoursSinceLast != nil {
		hours = *req.HoursSinceLast
	}

	factors, err := e.detector.Evaluate(ctx, detection.Transaction{
		Sender:         req.From,
		Receiver:       req.To,
		Amount:         req.Amount,
		Lat:            req.Lat,
		Lon:            req.Lon,
		Hour:           hour,
		HoursSinceLast: hours,
	})
	if err != nil {
		return nil, err
	}

	a := e.aggregator.Aggregate(factors)
	a.ID = idgen.WithPrefix("asm_")
	a.Timestamp = now
	return a, nil
}

// publish hands the record to the notifiers and, in the background, to the
// audit store with retries. Failures are logged and counted but never
// surface.
func (e *Engine) publish(rec *Record) {
	for _, n := range e.notifiers {
		n.NotifyAssessment(rec)
	}
	if e.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		err := retry.StoreWrite.Do(ctx, func(ctx context.Context) error {
			return e.store.Record(ctx, rec)
		})
		if err != nil {
			metrics.AuditRecordFailuresTotal.Inc()
			e.logger.Warn("failed to record assessment", "id", rec.ID, "error", err)
		}
	}()
}

// History returns the newest assessments for account, continuing after
// before when it is set.
func (e *Engine) History(ctx context.Context, account string, before *pagination.Cursor, limit int) ([]*Record, error) {
	if e.store == nil {
		return nil, ErrNotFound
	}
	recs, err := e.store.ListByAccount(ctx, account, before, limit)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs, nil
}
