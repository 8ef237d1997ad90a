package baseline

import "github.com/liamashdown/insiderlens/internal/storage"

// Baselined trade metrics
const (
	MetricSize           = "size"
	MetricUSDCSize       = "usdc_size"
	MetricTiming         = "timing" // hours before resolution
	MetricWalletAge      = "wallet_age"
	MetricWalletActivity = "wallet_activity"
	MetricPriceExtremity = "price_extremity"
)

// Metrics lists every baselined metric in a stable order
var Metrics = []string{
	MetricSize,
	MetricUSDCSize,
	MetricTiming,
	MetricWalletAge,
	MetricWalletActivity,
	MetricPriceExtremity,
}

// Value extracts a metric from a trade. ok is false when the trade doesn't carry it yet.
func Value(t *storage.Trade, metric string) (v float64, ok bool) {
	switch metric {
	case MetricSize:
		return t.Size, true
	case MetricUSDCSize:
		return t.Notional(), true
	case MetricTiming:
		if t.HoursBeforeResolution == nil {
			return 0, false
		}
		return *t.HoursBeforeResolution, true
	case MetricWalletAge:
		if t.WalletAgeDays == nil {
			return 0, false
		}
		return float64(*t.WalletAgeDays), true
	case MetricWalletActivity:
		if t.WalletTradeCount == nil {
			return 0, false
		}
		return float64(*t.WalletTradeCount), true
	case MetricPriceExtremity:
		if t.PriceExtremity == nil {
			return 0, false
		}
		return *t.PriceExtremity, true
	}
	return 0, false
}
