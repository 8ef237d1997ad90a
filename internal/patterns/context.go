package patterns

import "github.com/liamashdown/insiderlens/internal/storage"

// Context is the merged key -> value lookup a trade and its score are evaluated against
type Context map[string]Value

// Score-derived keys
const (
	KeySizeZScore                  = "size_zscore"
	KeyUSDCZScore                  = "usdc_zscore"
	KeyTimingZScore                = "timing_zscore"
	KeyWalletAgeZScore             = "wallet_age_zscore"
	KeyWalletActivityZScore        = "wallet_activity_zscore"
	KeyPriceExtremityZScore        = "price_extremity_zscore"
	KeyPositionConcentration       = "position_concentration"
	KeyPositionConcentrationZScore = "position_concentration_zscore"
	KeyAnomalyScore                = "anomaly_score"
	KeyInsiderProbability          = "insider_probability"
	KeyTrinityPattern              = "trinity_pattern"
)

// Trade-derived keys
const (
	KeySize                  = "size"
	KeyPrice                 = "price"
	KeyUSDCSize              = "usdc_size"
	KeyIsBuy                 = "is_buy"
	KeyWasCorrect            = "was_correct"
	KeyPriceExtremity        = "price_extremity"
	KeyHoursBeforeResolution = "hours_before_resolution"
	KeyWalletAgeDays         = "wallet_age_days"
	KeyWalletTradeCount      = "wallet_trade_count"
	KeyProfitLoss            = "profit_loss"
)

var contextKeys = map[string]Kind{
	KeySizeZScore:                  KindNumber,
	KeyUSDCZScore:                  KindNumber,
	KeyTimingZScore:                KindNumber,
	KeyWalletAgeZScore:             KindNumber,
	KeyWalletActivityZScore:        KindNumber,
	KeyPriceExtremityZScore:        KindNumber,
	KeyPositionConcentration:       KindNumber,
	KeyPositionConcentrationZScore: KindNumber,
	KeyAnomalyScore:                KindNumber,
	KeyInsiderProbability:          KindNumber,
	KeyTrinityPattern:              KindBool,
	KeySize:                        KindNumber,
	KeyPrice:                       KindNumber,
	KeyUSDCSize:                    KindNumber,
	KeyIsBuy:                       KindBool,
	KeyWasCorrect:                  KindBool,
	KeyPriceExtremity:              KindNumber,
	KeyHoursBeforeResolution:       KindNumber,
	KeyWalletAgeDays:               KindNumber,
	KeyWalletTradeCount:            KindNumber,
	KeyProfitLoss:                  KindNumber,
}

// KeyKind returns the kind a context key carries, KindInvalid for unknown keys
func KeyKind(key string) Kind {
	return contextKeys[key]
}

// BuildContext merges trade and score fields. Absent values are left out.
func BuildContext(t *storage.Trade, s *storage.TradeScore) Context {
	ctx := make(Context, len(contextKeys))
	setNum := func(key string, v *float64) {
		if v != nil {
			ctx[key] = Number(*v)
		}
	}

	if t != nil {
		ctx[KeySize] = Number(t.Size)
		ctx[KeyPrice] = Number(t.Price)
		ctx[KeyUSDCSize] = Number(t.Notional())
		ctx[KeyIsBuy] = Bool(t.Side == storage.SideBuy)
		if t.WasCorrect != nil {
			ctx[KeyWasCorrect] = Bool(*t.WasCorrect)
		}
		setNum(KeyPriceExtremity, t.PriceExtremity)
		setNum(KeyHoursBeforeResolution, t.HoursBeforeResolution)
		setNum(KeyProfitLoss, t.ProfitLoss)
		if t.WalletAgeDays != nil {
			ctx[KeyWalletAgeDays] = Number(float64(*t.WalletAgeDays))
		}
		if t.WalletTradeCount != nil {
			ctx[KeyWalletTradeCount] = Number(float64(*t.WalletTradeCount))
		}
	}

	if s != nil {
		setNum(KeySizeZScore, s.SizeZScore)
		setNum(KeyUSDCZScore, s.USDCZScore)
		setNum(KeyTimingZScore, s.TimingZScore)
		setNum(KeyWalletAgeZScore, s.WalletAgeZScore)
		setNum(KeyWalletActivityZScore, s.WalletActivityZScore)
		setNum(KeyPriceExtremityZScore, s.PriceExtremityZScore)
		setNum(KeyPositionConcentration, s.PositionConcentration)
		setNum(KeyPositionConcentrationZScore, s.PositionConcentrationZScore)
		ctx[KeyAnomalyScore] = Number(s.AnomalyScore)
		ctx[KeyInsiderProbability] = Number(s.InsiderProbability)
		ctx[KeyTrinityPattern] = Bool(s.TrinityPattern)
	}

	return ctx
}
