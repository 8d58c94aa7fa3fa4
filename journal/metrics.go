package journal

import (
	"math"
)

// Metrics is the metrics.json summary of a run.
type Metrics struct {
	ProfitFactor       *float64 `json:"profit_factor"`
	Winrate            float64  `json:"winrate"`
	AvgWin             float64  `json:"avg_win"`
	AvgLoss            float64  `json:"avg_loss"`
	ExpectancyPerTrade float64  `json:"expectancy_per_trade"`
	NumTrades          int      `json:"num_trades"`
	MaxDrawdownAbs     float64  `json:"max_drawdown_abs"`
	MaxDrawdownPct     float64  `json:"max_drawdown_pct"`
	SharpeLikeBasic    float64  `json:"sharpe_like_basic"`
}

// ComputeMetrics derives the run metrics from realised trade PnLs and the
// per-bar equity curve. Profit factor is nil when there are no losses.
func ComputeMetrics(pnls []float64, equity []float64) Metrics {
	m := Metrics{NumTrades: len(pnls)}

	var gross, loss, sum float64
	var wins, losses int
	for _, p := range pnls {
		sum += p
		switch {
		case p > 0:
			gross += p
			wins++
		case p < 0:
			loss += p
			losses++
		}
	}
	if loss != 0 {
		pf := gross / math.Abs(loss)
		m.ProfitFactor = &pf
	}
	if len(pnls) > 0 {
		m.Winrate = float64(wins) / float64(len(pnls))
		m.ExpectancyPerTrade = sum / float64(len(pnls))
	}
	if wins > 0 {
		m.AvgWin = gross / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = loss / float64(losses)
	}

	m.MaxDrawdownAbs, m.MaxDrawdownPct = maxDrawdown(equity)
	m.SharpeLikeBasic = sharpe(equity)
	return m
}

// maxDrawdown returns the largest peak-to-trough drop and that drop as a
// fraction of its peak.
func maxDrawdown(equity []float64) (float64, float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	var ddAbs, ddPct float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if dd := peak - e; dd > ddAbs {
			ddAbs = dd
			if peak > 0 {
				ddPct = dd / peak
			}
		}
	}
	return ddAbs, ddPct
}

// sharpe is mean(r)/stdev(r)*sqrt(N) over bar-to-bar equity returns, using
// the sample standard deviation.
func sharpe(equity []float64) float64 {
	var rs []float64
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			rs = append(rs, (equity[i]-equity[i-1])/equity[i-1])
		}
	}
	n := float64(len(rs))
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range rs {
		mean += r
	}
	mean /= n
	var ss float64
	for _, r := range rs {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / (n - 1))
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(n)
}
