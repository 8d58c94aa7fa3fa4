// Package rl is the inference side of the reinforcement-learning agents:
// observation building, linear risk and exit agents and the hook that
// injects their outputs into a strategy decision.
package rl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/afts/exits"
	"github.com/rustyeddy/afts/internal/errs"
)

type RiskAgentConfig struct {
	Enabled     bool      `yaml:"enabled" mapstructure:"enabled"`
	WeightsFile string    `yaml:"weights_file" mapstructure:"weights_file"`
	Weights     []float64 `yaml:"weights" mapstructure:"weights"`
	Bias        float64   `yaml:"bias" mapstructure:"bias"`
	MinRiskPct  float64   `yaml:"min_risk_pct" mapstructure:"min_risk_pct"`
	MaxRiskPct  float64   `yaml:"max_risk_pct" mapstructure:"max_risk_pct"`
	Epsilon     float64   `yaml:"epsilon" mapstructure:"epsilon"`
	Seed        int64     `yaml:"seed" mapstructure:"seed"`
}

type ExitAgentConfig struct {
	Enabled     bool        `yaml:"enabled" mapstructure:"enabled"`
	WeightsFile string      `yaml:"weights_file" mapstructure:"weights_file"`
	Weights     [][]float64 `yaml:"weights" mapstructure:"weights"`
	Bias        []float64   `yaml:"bias" mapstructure:"bias"`
	Epsilon     float64     `yaml:"epsilon" mapstructure:"epsilon"`
	Seed        int64       `yaml:"seed" mapstructure:"seed"`
}

// ObsConfig holds the clipping constants of the observation vector.
type ObsConfig struct {
	QtyScale      float64 `yaml:"qty_scale" mapstructure:"qty_scale"`
	LossScale     float64 `yaml:"loss_scale" mapstructure:"loss_scale"`
	VelocityScale float64 `yaml:"velocity_scale" mapstructure:"velocity_scale"`
	SpreadScale   float64 `yaml:"spread_scale" mapstructure:"spread_scale"`
	NumSessions   int     `yaml:"num_sessions" mapstructure:"num_sessions"`
}

type Config struct {
	Enabled     bool            `yaml:"enabled" mapstructure:"enabled"`
	RawFeatures []string        `yaml:"raw_features" mapstructure:"raw_features"`
	Observation ObsConfig       `yaml:"observation" mapstructure:"observation"`
	RiskAgent   RiskAgentConfig `yaml:"risk_agent" mapstructure:"risk_agent"`
	ExitAgent   ExitAgentConfig `yaml:"exit_agent" mapstructure:"exit_agent"`
	ExitPolicy  exits.Config    `yaml:"exit_policy" mapstructure:"exit_policy"`
}

func DefaultConfig() Config {
	return Config{
		Observation: ObsConfig{
			QtyScale:      100000,
			LossScale:     0.10,
			VelocityScale: 0.05,
			SpreadScale:   0.001,
		},
		RiskAgent:  RiskAgentConfig{MinRiskPct: 0.1, MaxRiskPct: 2.0},
		ExitPolicy: exits.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RiskAgent.Enabled && c.RiskAgent.MinRiskPct > c.RiskAgent.MaxRiskPct {
		return errs.Configf("rl: risk_agent min_risk_pct %v > max_risk_pct %v", c.RiskAgent.MinRiskPct, c.RiskAgent.MaxRiskPct)
	}
	for _, e := range []float64{c.RiskAgent.Epsilon, c.ExitAgent.Epsilon} {
		if e < 0 || e > 1 {
			return errs.Configf("rl: epsilon %v not in [0,1]", e)
		}
	}
	return c.ExitPolicy.Validate()
}

type riskWeights struct {
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
}

type exitWeights struct {
	Weights [][]float64 `yaml:"weights"`
	Bias    []float64   `yaml:"bias"`
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read weights: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: weights %s: %v", errs.ErrConfig, path, err)
	}
	return nil
}

// SaveRiskWeights writes w and b in the weights_file format.
func SaveRiskWeights(path string, w []float64, b float64) error {
	return writeYAML(path, riskWeights{Weights: w, Bias: b})
}

// SaveExitWeights writes w and b in the weights_file format.
func SaveExitWeights(path string, w [][]float64, b []float64) error {
	return writeYAML(path, exitWeights{Weights: w, Bias: b})
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
