package features

// RawFeature binds a feature name to a calculator and its parameters.
type RawFeature struct {
	Name       string             `yaml:"name" mapstructure:"name"`
	Calculator string             `yaml:"calculator" mapstructure:"calculator"`
	Params     map[string]float64 `yaml:"params" mapstructure:"params"`
}

// ScaleParam carries per-feature scaling constants. zscore uses Mean/Std,
// minmax uses Min/Max.
type ScaleParam struct {
	Mean float64 `yaml:"mean" mapstructure:"mean"`
	Std  float64 `yaml:"std" mapstructure:"std"`
	Min  float64 `yaml:"min" mapstructure:"min"`
	Max  float64 `yaml:"max" mapstructure:"max"`
}

type Scaling struct {
	Type   string                `yaml:"type" mapstructure:"type"`
	Params map[string]ScaleParam `yaml:"params" mapstructure:"params"`
}

type ModelFeatures struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	FeatureOrder []string `yaml:"feature_order" mapstructure:"feature_order"`
	Scaling      Scaling  `yaml:"scaling" mapstructure:"scaling"`
}

type Config struct {
	RawFeatures   []RawFeature  `yaml:"raw_features" mapstructure:"raw_features"`
	ModelFeatures ModelFeatures `yaml:"model_features" mapstructure:"model_features"`
}

// DefaultConfig returns the feature set used when a profile omits one.
func DefaultConfig() Config {
	return Config{
		RawFeatures: []RawFeature{
			{Name: "atr_14", Calculator: "atr", Params: map[string]float64{"period": 14}},
			{Name: "ema_20", Calculator: "ema", Params: map[string]float64{"period": 20}},
			{Name: "ema_50", Calculator: "ema", Params: map[string]float64{"period": 50}},
			{Name: "rsi_14", Calculator: "rsi", Params: map[string]float64{"period": 14}},
			{Name: "close_return_1", Calculator: "close_return", Params: map[string]float64{"lookback": 1}},
			{Name: "volatility_20", Calculator: "volatility", Params: map[string]float64{"window": 20}},
			{Name: "volatility_score", Calculator: "volatility_score", Params: map[string]float64{"period": 14}},
			{Name: "trend_score", Calculator: "trend_score", Params: map[string]float64{"fast": 20, "slow": 50, "atr_period": 14, "scale": 1}},
		},
	}
}
