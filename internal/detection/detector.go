package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/sentinel/internal/anomaly"
	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/traces"
	"github.com/mbd888/sentinel/internal/trustgraph"
	"github.com/mbd888/sentinel/internal/velocity"
)

// Components are the trained and configured pieces a Detector runs.
type Components struct {
	Model       *anomaly.Model
	Graph       *trustgraph.Graph
	Tracker     *velocity.Tracker
	Profiles    Profiles
	Travel      TravelDetector
	Structuring StructuringDetector
}

// Detector evaluates all layers for a transaction. It is safe for
// concurrent use; only the velocity tracker holds mutable state.
type Detector struct {
	c Components
}

// New creates a detector from prepared components.
func New(c Components) *Detector {
	return &Detector{c: c}
}

// FromConfig trains the anomaly model and builds every layer from cfg.
// Velocity windows are kept in store.
func FromConfig(cfg *config.EngineConfig, store velocity.Store, opts ...velocity.Option) *Detector {
	mc := cfg.Model
	return New(Components{
		Model:   anomaly.Train(TrainingFeatures(cfg.Training.NormalTransactions), ForestConfig(mc.IsolationForest)),
		Graph:   trustgraph.New(TrustEdges(cfg.TrustGraph.Edges)),
		Tracker: velocity.NewTracker(store, velocity.Config{
			Window:          time.Duration(mc.TransactionVelocity.WindowMinutes) * time.Minute,
			MaxTransactions: mc.TransactionVelocity.MaxTransactions,
		}, opts...),
		Profiles:    NewProfiles(cfg.Profiles.Accounts),
		Travel:      NewTravelDetector(mc.VelocityDetection.MaxTravelSpeedKmh),
		Structuring: NewStructuringDetector(mc.Structuring.ReportingThresholds, mc.Structuring.ProximityMargin),
	})
}

// TrainingFeatures converts seed points into model features.
func TrainingFeatures(pts []config.TrainingPoint) []anomaly.Features {
	out := make([]anomaly.Features, 0, len(pts))
	for _, p := range pts {
		out = append(out, anomaly.Features{Amount: p.Amount, Lat: p.Lat, Lon: p.Lon, Hour: p.Hour})
	}
	return out
}

// ForestConfig maps engine settings to model hyperparameters.
func ForestConfig(c config.IsolationForestConfig) anomaly.Config {
	return anomaly.Config{
		NEstimators:   c.NEstimators,
		Contamination: c.Contamination,
		RandomState:   c.RandomState,
		MaxSamples:    c.MaxSamples,
	}
}

// TrustEdges maps configured edges, giving unscored edges the default
// weight.
func TrustEdges(edges []config.TrustEdge) []trustgraph.Edge {
	out := make([]trustgraph.Edge, 0, len(edges))
	for _, e := range edges {
		w := trustgraph.DefaultTrust
		if e.TrustScore != nil {
			w = *e.TrustScore
		}
		out = append(out, trustgraph.Edge{From: e.From, To: e.To, Trust: w})
	}
	return out
}

// Evaluate runs every layer in Layers order. The only failure source is
// the velocity store; every other layer is a pure function of tx.
func (d *Detector) Evaluate(ctx context.Context, tx Transaction) (Factors, error) {
	ctx, span := traces.StartSpan(ctx, "detection.Evaluate",
		traces.Account(tx.Sender), traces.Counterparty(tx.Receiver), traces.Amount(tx.Amount.String()))
	defer span.End()

	prof := d.c.Profiles.Lookup(tx.Sender)
	out := make(Factors, 0, len(Layers))

	out = append(out, d.anomaly(tx))

	out = append(out, d.c.Travel.Check(prof, tx.Lat, tx.Lon, tx.HoursSinceLast))

	out = append(out, d.beneficiary(tx.Sender, tx.Receiver))

	vel, err := d.velocity(ctx, tx.Sender)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out = append(out, vel)

	out = append(out, d.c.Structuring.Check(tx.Amount))
	out = append(out, CheckAmountDeviation(prof, tx.Amount))
	out = append(out, CheckOddHour(tx.Hour))

	triggered := out.Triggered()
	names := make([]string, len(triggered))
	for i, l := range triggered {
		names[i] = string(l)
	}
	span.SetAttributes(traces.TriggeredLayers(names))
	return out, nil
}

func (d *Detector) anomaly(tx Transaction) Signal {
	isAnomaly, score := d.c.Model.Score(anomaly.Features{
		Amount: tx.Amount.InexactFloat64(),
		Lat:    tx.Lat,
		Lon:    tx.Lon,
		Hour:   tx.Hour,
	})
	sig := Signal{Layer: LayerAnomaly, Triggered: isAnomaly, Value: score}
	if isAnomaly {
		sig.Reason = fmt.Sprintf("Spending pattern anomaly detected (isolation score: %.3f)", score)
	}
	return sig
}

func (d *Detector) beneficiary(sender, receiver string) Signal {
	r := d.c.Graph.Check(sender, receiver)
	return Signal{Layer: LayerBeneficiary, Triggered: r.Untrusted, Value: r.TrustScore, Reason: r.Reason}
}

func (d *Detector) velocity(ctx context.Context, sender string) (Signal, error) {
	res, err := d.c.Tracker.RecordAndCheck(ctx, sender)
	if err != nil {
		return Signal{}, err
	}
	return Signal{Layer: LayerVelocity, Triggered: res.Abuse, Value: float64(res.Count), Reason: res.Reason}, nil
}

// Report summarizes the loaded components for health output.
type Report struct {
	ModelLoaded      bool    `json:"isolation_forest"`
	Trees            int     `json:"trees"`
	TrainedOn        int     `json:"trained_on"`
	UsedFallbackSeed bool    `json:"used_fallback_seed"`
	Threshold        float64 `json:"anomaly_threshold"`
	GraphNodes       int     `json:"trust_graph_nodes"`
	GraphEdges       int     `json:"trust_graph_edges"`
	Profiles         int     `json:"user_profiles"`
}

// Report describes the detector's loaded state.
func (d *Detector) Report() Report {
	r := Report{
		GraphNodes: d.c.Graph.NodeCount(),
		GraphEdges: d.c.Graph.EdgeCount(),
		Profiles:   d.c.Profiles.Len(),
	}
	if m := d.c.Model; m != nil {
		r.ModelLoaded = true
		r.Trees = m.Trees()
		r.TrainedOn = m.TrainedOn()
		r.UsedFallbackSeed = m.UsedFallback()
		r.Threshold = m.Threshold()
	}
	return r
}
