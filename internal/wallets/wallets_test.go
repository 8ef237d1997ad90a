package wallets

import (
	"context"
	"io"
	"testing"

	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/liamashdown/insiderlens/internal/storage/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*storage.DB)(nil)
	_ Store = (*memory.Store)(nil)
)

func TestAccumulate(t *testing.T) {
	yes, no := true, false
	w := &storage.Wallet{WalletAddress: "0xa"}

	trades := []storage.Trade{
		{TradeTS: 200, Size: 10, Price: 0.5, WasCorrect: &yes},
		{TradeTS: 100, Size: 100, Price: 0.5, USDCSize: 40, WasCorrect: &no},
		{TradeTS: 300, Size: 4, Price: 0.25},
		{TradeTS: 250, Size: 2, Price: 0.5, WasCorrect: &yes},
	}
	for i := range trades {
		Accumulate(w, &trades[i])
	}

	assert.Equal(t, 4, w.TotalTrades)
	assert.InDelta(t, 5+40+1+1, w.TotalVolumeUSD, 1e-9)
	assert.Equal(t, int64(100), w.FirstSeenTS)
	assert.Equal(t, int64(300), w.LastSeenTS)
	assert.Equal(t, 3, w.ResolvedTrades)
	assert.Equal(t, 2, w.WinningTrades)
	assert.InDelta(t, 2.0/3.0, w.WinRate, 1e-9)
}

func TestRecompute(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	yes := true
	m := store.AddMarket(storage.Market{ConditionID: "m"})
	for i := 0; i < 7; i++ {
		wallet := "0xa"
		if i%2 == 1 {
			wallet = "0xb"
		}
		store.AddTrade(storage.Trade{WalletAddress: wallet, MarketID: m.ID, Size: 10, Price: 0.5, TradeTS: int64(i), WasCorrect: &yes})
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	r := New(&config.Config{BaselineChunkSize: 3}, store, log)

	res, err := r.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Wallets)
	assert.Equal(t, int64(7), res.Trades)

	a, err := store.GetWallet(ctx, "0xa")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 4, a.TotalTrades)
	assert.Equal(t, 1.0, a.WinRate)

	// rerunning replaces rather than adds
	_, err = r.Recompute(ctx)
	require.NoError(t, err)
	b, err := store.GetWallet(ctx, "0xb")
	require.NoError(t, err)
	assert.Equal(t, 3, b.TotalTrades)
	assert.InDelta(t, 15.0, b.TotalVolumeUSD, 1e-9)
}
