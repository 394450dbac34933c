package facts

import "github.com/atlas-desktop/trading-backend/pkg/types"

// minBarsForIndicators is the fail-soft threshold from spec.md §4.1:
// "if history is insufficient (<20 bars), return indicators as
// insufficient". Below this many bars, RSI14/ATR14 are left nil and
// data_thin is flagged instead of being computed from a short window.
const minBarsForIndicators = 20

// advWindow bounds how many trailing bars feed RSI/ATR/ADV, per spec.md
// §4.1 ("from the most recent 30 trading days").
const advWindow = 30

// wilderPeriod is the RSI/ATR Wilder smoothing window, grounded on the
// teacher's internal/strategy/strategy.go RSIDivergenceStrategy, which
// used the identical period=14 Wilder-smoothed-average formula.
const wilderPeriod = 14

// rsi14 computes the 14-period RSI with Wilder's smoothed moving average
// over the most recent bars (bars is expected to already be trimmed to at
// most advWindow entries, oldest first).
func rsi14(bars []types.OHLCV) (float64, bool) {
	if len(bars) < wilderPeriod+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= wilderPeriod; i++ {
		change := closeF(bars[i]) - closeF(bars[i-1])
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= wilderPeriod
	avgLoss /= wilderPeriod

	for i := wilderPeriod + 1; i < len(bars); i++ {
		change := closeF(bars[i]) - closeF(bars[i-1])
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(wilderPeriod-1) + gain) / wilderPeriod
		avgLoss = (avgLoss*(wilderPeriod-1) + loss) / wilderPeriod
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// atr14 computes the 14-period ATR with Wilder's smoothed moving average
// over true range, same smoothing idiom as rsi14.
func atr14(bars []types.OHLCV) (float64, bool) {
	if len(bars) < wilderPeriod+1 {
		return 0, false
	}

	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		high := highF(bars[i])
		low := lowF(bars[i])
		prevClose := closeF(bars[i-1])

		tr := high - low
		if d := abs(high - prevClose); d > tr {
			tr = d
		}
		if d := abs(low - prevClose); d > tr {
			tr = d
		}
		trueRanges = append(trueRanges, tr)
	}

	avg := 0.0
	for i := 0; i < wilderPeriod; i++ {
		avg += trueRanges[i]
	}
	avg /= wilderPeriod

	for i := wilderPeriod; i < len(trueRanges); i++ {
		avg = (avg*(wilderPeriod-1) + trueRanges[i]) / wilderPeriod
	}
	return avg, true
}

// dollarADV computes the mean of close*volume over the supplied bars
// (already trimmed to at most advWindow entries).
func dollarADV(bars []types.OHLCV) float64 {
	if len(bars) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bars {
		sum += closeF(b) * volumeF(b)
	}
	return sum / float64(len(bars))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func closeF(b types.OHLCV) float64  { return b.Close.InexactFloat64() }
func highF(b types.OHLCV) float64   { return b.High.InexactFloat64() }
func lowF(b types.OHLCV) float64    { return b.Low.InexactFloat64() }
func volumeF(b types.OHLCV) float64 { return b.Volume.InexactFloat64() }

// trimToWindow returns the last n bars of history (or all of them if
// there are fewer than n), oldest first.
func trimToWindow(bars []types.OHLCV, n int) []types.OHLCV {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
