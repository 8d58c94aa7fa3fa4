// market/instruments.go
package market

import "math"

// AssetSpec describes how a symbol is quantised and valued.
type AssetSpec struct {
	Symbol      string  `yaml:"symbol" mapstructure:"symbol"`
	MinQty      float64 `yaml:"min_qty" mapstructure:"min_qty"`
	TickSize    float64 `yaml:"tick_size" mapstructure:"tick_size"`
	CostPerUnit float64 `yaml:"cost_per_unit" mapstructure:"cost_per_unit"`
	DefaultQty  float64 `yaml:"default_qty" mapstructure:"default_qty"`
	PipLocation int     `yaml:"pip_location" mapstructure:"pip_location"`
}

// PipSize returns 10^PipLocation, e.g. 0.0001 for EUR_USD.
func (a AssetSpec) PipSize() float64 {
	return math.Pow(10, float64(a.PipLocation))
}

// Multiplier returns CostPerUnit, treating an unset value as 1.
func (a AssetSpec) Multiplier() float64 {
	if a.CostPerUnit <= 0 {
		return 1
	}
	return a.CostPerUnit
}

// Assets maps symbol to spec.
type Assets map[string]AssetSpec

var defaultAsset = AssetSpec{
	MinQty:      1,
	TickSize:    0.00001,
	CostPerUnit: 1,
	DefaultQty:  1000,
	PipLocation: -4,
}

// Get returns the spec for symbol, falling back to the built-in instrument
// table and then to generic FX defaults. Unset fields are filled from the
// defaults.
func (a Assets) Get(symbol string) AssetSpec {
	spec, ok := a[symbol]
	if !ok {
		spec, ok = Instruments[symbol]
	}
	if !ok {
		spec = defaultAsset
	}
	spec.Symbol = symbol
	if spec.MinQty <= 0 {
		spec.MinQty = defaultAsset.MinQty
	}
	if spec.TickSize <= 0 {
		spec.TickSize = defaultAsset.TickSize
	}
	if spec.CostPerUnit <= 0 {
		spec.CostPerUnit = defaultAsset.CostPerUnit
	}
	if spec.DefaultQty <= 0 {
		spec.DefaultQty = defaultAsset.DefaultQty
	}
	if spec.PipLocation == 0 {
		spec.PipLocation = defaultAsset.PipLocation
	}
	return spec
}

// Instruments is the built-in table used when a profile omits an asset.
var Instruments = map[string]AssetSpec{
	"EUR_USD": {
		Symbol:      "EUR_USD",
		MinQty:      1,
		TickSize:    0.00001,
		CostPerUnit: 1,
		DefaultQty:  10000,
		PipLocation: -4,
	},
	"GBP_USD": {
		Symbol:      "GBP_USD",
		MinQty:      1,
		TickSize:    0.00001,
		CostPerUnit: 1,
		DefaultQty:  10000,
		PipLocation: -4,
	},
	"USD_JPY": {
		Symbol:      "USD_JPY",
		MinQty:      1,
		TickSize:    0.001,
		CostPerUnit: 1,
		DefaultQty:  10000,
		PipLocation: -2,
	},
}
