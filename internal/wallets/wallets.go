// Package wallets rebuilds per-wallet aggregates from trade history.
package wallets

import (
	"context"
	"fmt"
	"time"

	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the recompute needs
type Store interface {
	ListTrades(ctx context.Context, page storage.TradePage) ([]storage.Trade, error)
	UpsertWallet(ctx context.Context, wallet *storage.Wallet) error
}

// Result counts one recompute
type Result struct {
	Wallets int   `json:"wallets"`
	Trades  int64 `json:"trades"`
	Errors  int   `json:"errors"`
}

// Recomputer rebuilds wallet stats
type Recomputer struct {
	cfg   *config.Config
	store Store
	log   *logrus.Logger
}

// New creates a recomputer
func New(cfg *config.Config, store Store, log *logrus.Logger) *Recomputer {
	return &Recomputer{cfg: cfg, store: store, log: log}
}

// Accumulate folds one trade into w. Only trades with a known outcome count toward the win rate.
func Accumulate(w *storage.Wallet, t *storage.Trade) {
	if w.TotalTrades == 0 || t.TradeTS < w.FirstSeenTS {
		w.FirstSeenTS = t.TradeTS
	}
	if t.TradeTS > w.LastSeenTS {
		w.LastSeenTS = t.TradeTS
	}
	w.TotalTrades++
	w.TotalVolumeUSD += t.Notional()
	if t.WasCorrect != nil {
		w.ResolvedTrades++
		if *t.WasCorrect {
			w.WinningTrades++
		}
	}
	w.WinRate = 0
	if w.ResolvedTrades > 0 {
		w.WinRate = float64(w.WinningTrades) / float64(w.ResolvedTrades)
	}
}

// Recompute walks every trade in id order and replaces each wallet's aggregate
func (r *Recomputer) Recompute(ctx context.Context) (*Result, error) {
	start := time.Now()
	r.log.Info("Starting wallet stats recompute")

	agg := make(map[string]*storage.Wallet)
	result := &Result{}
	var afterID int64
	for {
		trades, err := r.store.ListTrades(ctx, storage.TradePage{AfterID: afterID, Limit: r.cfg.BaselineChunkSize})
		if err != nil {
			metrics.RecordJob("wallet_recompute", time.Since(start), err)
			return nil, fmt.Errorf("list trades: %w", err)
		}
		for i := range trades {
			t := &trades[i]
			w, ok := agg[t.WalletAddress]
			if !ok {
				w = &storage.Wallet{WalletAddress: t.WalletAddress}
				agg[t.WalletAddress] = w
			}
			Accumulate(w, t)
		}
		result.Trades += int64(len(trades))
		if len(trades) < r.cfg.BaselineChunkSize {
			break
		}
		afterID = trades[len(trades)-1].ID
	}

	for _, w := range agg {
		if err := ctx.Err(); err != nil {
			metrics.RecordJob("wallet_recompute", time.Since(start), err)
			return result, err
		}
		if err := r.store.UpsertWallet(ctx, w); err != nil {
			result.Errors++
			r.log.WithError(err).WithField("wallet", w.WalletAddress).Error("Failed to upsert wallet stats")
			continue
		}
		result.Wallets++
	}

	metrics.RecordJob("wallet_recompute", time.Since(start), nil)
	r.log.WithFields(logrus.Fields{
		"wallets":  result.Wallets,
		"trades":   result.Trades,
		"errors":   result.Errors,
		"duration": time.Since(start).String(),
	}).Info("Wallet stats recompute complete")
	return result, nil
}
