package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/mbd888/sentinel/internal/validation"
)

// EngineEnvPrefix marks environment variables that override engine settings.
// SENTINEL_RISK_THRESHOLDS__HIGH=0.9 sets risk_thresholds.high.
const EngineEnvPrefix = "SENTINEL_"

// ErrEngineConfigNotFound is returned by LoadEngineStrict when the file is absent.
var ErrEngineConfigNotFound = errors.New("engine config file not found")

// EngineConfig is the fraud engine document. It is loaded once at startup
// and read-only afterwards.
type EngineConfig struct {
	Model      ModelConfig      `koanf:"model_config" json:"model_config"`
	Training   TrainingData     `koanf:"training_data" json:"training_data"`
	Profiles   UserProfiles     `koanf:"user_profiles" json:"user_profiles"`
	TrustGraph TrustGraphConfig `koanf:"trust_graph" json:"trust_graph"`
	Weights    RiskWeights      `koanf:"risk_weights" json:"risk_weights"`
	Thresholds RiskThresholds   `koanf:"risk_thresholds" json:"risk_thresholds"`
}

type ModelConfig struct {
	IsolationForest     IsolationForestConfig `koanf:"isolation_forest" json:"isolation_forest"`
	VelocityDetection   TravelConfig          `koanf:"velocity_detection" json:"velocity_detection"`
	TransactionVelocity VelocityConfig        `koanf:"transaction_velocity" json:"transaction_velocity"`
	Structuring         StructuringConfig     `koanf:"structuring_detection" json:"structuring_detection"`
}

type IsolationForestConfig struct {
	Contamination float64 `koanf:"contamination" json:"contamination" validate:"gt=0,lte=0.5"`
	NEstimators   int     `koanf:"n_estimators" json:"n_estimators" validate:"gt=0,lte=10000"`
	RandomState   int64   `koanf:"random_state" json:"random_state"`
	// MaxSamples of 0 means min(256, len(training set)).
	MaxSamples int `koanf:"max_samples" json:"max_samples" validate:"gte=0"`
}

type TravelConfig struct {
	MaxTravelSpeedKmh float64 `koanf:"max_travel_speed_kmh" json:"max_travel_speed_kmh" validate:"gt=0"`
}

type VelocityConfig struct {
	WindowMinutes   int `koanf:"window_minutes" json:"window_minutes" validate:"gt=0"`
	MaxTransactions int `koanf:"max_transactions" json:"max_transactions" validate:"gt=0"`
}

type StructuringConfig struct {
	ReportingThresholds []float64 `koanf:"reporting_thresholds" json:"reporting_thresholds" validate:"dive,gt=0"`
	ProximityMargin     float64   `koanf:"proximity_margin" json:"proximity_margin" validate:"gte=0"`
}

type TrainingData struct {
	NormalTransactions []TrainingPoint `koanf:"normal_transactions" json:"normal_transactions" validate:"dive"`
}

// TrainingPoint is one seed observation of normal behaviour.
type TrainingPoint struct {
	Amount float64 `koanf:"amount" json:"amount" validate:"gte=0"`
	Lat    float64 `koanf:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lon    float64 `koanf:"lon" json:"lon" validate:"gte=-180,lte=180"`
	Hour   int     `koanf:"hour" json:"hour" validate:"gte=0,lte=23"`
}

type UserProfiles struct {
	Accounts map[string]UserProfile `koanf:"accounts" json:"accounts" validate:"dive"`
}

// UserProfile fields are optional; absent values fall back to engine defaults.
type UserProfile struct {
	HomeLat          *float64 `koanf:"home_lat" json:"home_lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	HomeLon          *float64 `koanf:"home_lon" json:"home_lon,omitempty" validate:"omitempty,gte=-180,lte=180"`
	TypicalMaxAmount *float64 `koanf:"typical_max_amount" json:"typical_max_amount,omitempty" validate:"omitempty,gt=0"`
}

type TrustGraphConfig struct {
	Edges []TrustEdge `koanf:"edges" json:"edges" validate:"dive"`
}

// TrustEdge is a directed sender to receiver relationship. A nil TrustScore
// takes the graph's default weight.
type TrustEdge struct {
	From       string   `koanf:"from" json:"from" validate:"required"`
	To         string   `koanf:"to" json:"to" validate:"required"`
	TrustScore *float64 `koanf:"trust_score" json:"trust_score,omitempty" validate:"omitempty,gte=0,lte=1"`
}

type RiskWeights struct {
	BaseRisk           float64 `koanf:"base_risk" json:"base_risk" validate:"gte=0,lte=1"`
	AnomalyDetection   float64 `koanf:"anomaly_detection" json:"anomaly_detection" validate:"gte=0,lte=1"`
	ImpossibleTravel   float64 `koanf:"impossible_travel" json:"impossible_travel" validate:"gte=0,lte=1"`
	UnknownBeneficiary float64 `koanf:"unknown_beneficiary" json:"unknown_beneficiary" validate:"gte=0,lte=1"`
	VelocityAbuse      float64 `koanf:"velocity_abuse" json:"velocity_abuse" validate:"gte=0,lte=1"`
	StructuringAttempt float64 `koanf:"structuring_attempt" json:"structuring_attempt" validate:"gte=0,lte=1"`
	AmountDeviation    float64 `koanf:"amount_deviation" json:"amount_deviation" validate:"gte=0,lte=1"`
	OddHourTransaction float64 `koanf:"odd_hour_transaction" json:"odd_hour_transaction" validate:"gte=0,lte=1"`
}

type RiskThresholds struct {
	Low    float64 `koanf:"low" json:"low" validate:"gte=0,lte=1,ltefield=Medium"`
	Medium float64 `koanf:"medium" json:"medium" validate:"gte=0,lte=1,ltefield=High"`
	High   float64 `koanf:"high" json:"high" validate:"gte=0,lte=1"`
}

// DefaultEngineConfig is the built-in engine document used when no file is
// available.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Model: ModelConfig{
			IsolationForest: IsolationForestConfig{
				Contamination: 0.1,
				NEstimators:   100,
				RandomState:   42,
			},
			VelocityDetection:   TravelConfig{MaxTravelSpeedKmh: 900},
			TransactionVelocity: VelocityConfig{WindowMinutes: 5, MaxTransactions: 10},
			Structuring: StructuringConfig{
				ReportingThresholds: []float64{10000, 50000, 100000},
				ProximityMargin:     500,
			},
		},
		Training: TrainingData{
			NormalTransactions: []TrainingPoint{
				{Amount: 500, Lat: 19.07, Lon: 72.87, Hour: 10},
				{Amount: 2000, Lat: 19.07, Lon: 72.87, Hour: 14},
				{Amount: 50000, Lat: 12.97, Lon: 77.59, Hour: 11},
			},
		},
		Profiles:   UserProfiles{Accounts: map[string]UserProfile{}},
		TrustGraph: TrustGraphConfig{Edges: []TrustEdge{}},
		Weights: RiskWeights{
			BaseRisk:           0.05,
			AnomalyDetection:   0.35,
			ImpossibleTravel:   0.40,
			UnknownBeneficiary: 0.15,
			VelocityAbuse:      0.30,
			StructuringAttempt: 0.25,
			AmountDeviation:    0.20,
			OddHourTransaction: 0.10,
		},
		Thresholds: RiskThresholds{Low: 0.2, Medium: 0.5, High: 0.8},
	}
}

// Validate checks ranges and threshold ordering.
func (c *EngineConfig) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

// LoadEngineStrict layers defaults, the JSON file at path and SENTINEL_
// environment overrides, then validates. A missing file is an error.
func LoadEngineStrict(path string) (*EngineConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrEngineConfigNotFound, path)
		}
		return nil, fmt.Errorf("stat engine config: %w", err)
	}
	return loadEngine(path)
}

// LoadEngine behaves like LoadEngineStrict but never fails: a missing,
// unreadable or invalid file falls back to defaults (plus env overrides)
// with a warning.
func LoadEngine(path string, logger *slog.Logger) *EngineConfig {
	cfg, err := LoadEngineStrict(path)
	if err == nil {
		logger.Info("engine config loaded", "path", path)
		return cfg
	}

	if errors.Is(err, ErrEngineConfigNotFound) {
		logger.Warn("engine config file not found, using defaults", "path", path)
	} else {
		logger.Warn("engine config unusable, using defaults", "path", path, "error", err)
	}

	cfg, err = loadEngine("")
	if err != nil {
		logger.Warn("engine env overrides rejected, using built-in defaults", "error", err)
		return DefaultEngineConfig()
	}
	return cfg
}

func loadEngine(path string) (*EngineConfig, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(DefaultEngineConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: file
	if path != "" {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load engine config %s: %w", path, err)
		}
	}

	// Layer 3: environment
	if err := k.Load(env.Provider(EngineEnvPrefix, ".", engineEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := splitSliceOverrides(k); err != nil {
		return nil, err
	}

	cfg := &EngineConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal engine config: %w", err)
	}
	if cfg.Profiles.Accounts == nil {
		cfg.Profiles.Accounts = map[string]UserProfile{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// engineEnvKey maps SENTINEL_MODEL_CONFIG__TRANSACTION_VELOCITY__MAX_TRANSACTIONS
// to model_config.transaction_velocity.max_transactions.
func engineEnvKey(s string) string {
	s = strings.TrimPrefix(s, EngineEnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

var sliceEnginePaths = []string{
	"model_config.structuring_detection.reporting_thresholds",
}

// splitSliceOverrides turns comma-separated env values into slices.
func splitSliceOverrides(k *koanf.Koanf) error {
	for _, path := range sliceEnginePaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []any
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Profile returns the configured profile for an account.
func (c *EngineConfig) Profile(account string) (UserProfile, bool) {
	p, ok := c.Profiles.Accounts[account]
	return p, ok
}
