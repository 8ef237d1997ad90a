// Package rings finds wallets that repeatedly trade the same markets as
// confirmed insiders.
package rings

import (
	"context"
	"fmt"
	"sort"

	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// MinSharedMarkets is the overlap at which two wallets are considered linked
const MinSharedMarkets = 2

// Store is the persistence ring detection reads
type Store interface {
	ListInsiderWallets(ctx context.Context) ([]string, error)
	ListWalletMarketIDs(ctx context.Context, wallet string) ([]int64, error)
	ListMarketWallets(ctx context.Context, marketIDs []int64) ([]storage.WalletMarket, error)
	ListWallets(ctx context.Context, addresses []string) (map[string]storage.Wallet, error)
	WalletAverageAnomaly(ctx context.Context, wallets []string) (map[string]float64, error)
}

// InsiderLink is one confirmed insider sharing markets with the target
type InsiderLink struct {
	WalletAddress string  `json:"wallet_address"`
	SharedMarkets int     `json:"shared_markets"`
	MarketIDs     []int64 `json:"market_ids"`
}

// Connection summarizes a wallet's overlap with confirmed insiders
type Connection struct {
	WalletAddress string        `json:"wallet_address"`
	Connected     bool          `json:"connected"`
	InsiderCount  int           `json:"insider_count"`
	SharedMarkets int           `json:"shared_markets"` // distinct markets shared with linked insiders
	Insiders      []InsiderLink `json:"insiders"`
}

// RelatedWallet is another wallet sharing markets with the target
type RelatedWallet struct {
	WalletAddress  string  `json:"wallet_address"`
	IsInsider      bool    `json:"is_insider"`
	SharedMarkets  int     `json:"shared_markets"`
	TotalTrades    int     `json:"total_trades"`
	TotalVolumeUSD float64 `json:"total_volume_usd"`
	WinRate        float64 `json:"win_rate"`
	AvgAnomaly     float64 `json:"avg_anomaly_score"`
}

// Detector answers ring queries
type Detector struct {
	store Store
	log   *logrus.Logger
}

// New creates a detector
func New(store Store, log *logrus.Logger) *Detector {
	return &Detector{store: store, log: log}
}

// overlap maps every other wallet on the target's markets to the markets they share
func (d *Detector) overlap(ctx context.Context, wallet string) (map[string][]int64, error) {
	markets, err := d.store.ListWalletMarketIDs(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list markets of %s: %w", wallet, err)
	}
	if len(markets) < MinSharedMarkets {
		return nil, nil
	}

	pairs, err := d.store.ListMarketWallets(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("list market wallets: %w", err)
	}
	shared := make(map[string][]int64)
	for _, p := range pairs {
		if p.WalletAddress == wallet {
			continue
		}
		shared[p.WalletAddress] = append(shared[p.WalletAddress], p.MarketID)
	}
	for w, ids := range shared {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		shared[w] = ids
	}
	return shared, nil
}

func (d *Detector) insiderSet(ctx context.Context) (map[string]bool, error) {
	wallets, err := d.store.ListInsiderWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list insider wallets: %w", err)
	}
	set := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		set[w] = true
	}
	return set, nil
}

func (d *Detector) connection(ctx context.Context, wallet string, insiders map[string]bool) (*Connection, error) {
	conn := &Connection{WalletAddress: wallet, Insiders: []InsiderLink{}}
	if len(insiders) == 0 {
		return conn, nil
	}

	shared, err := d.overlap(ctx, wallet)
	if err != nil {
		return nil, err
	}

	union := make(map[int64]bool)
	for w, ids := range shared {
		if !insiders[w] || len(ids) < MinSharedMarkets {
			continue
		}
		conn.Insiders = append(conn.Insiders, InsiderLink{WalletAddress: w, SharedMarkets: len(ids), MarketIDs: ids})
		for _, id := range ids {
			union[id] = true
		}
	}
	sort.Slice(conn.Insiders, func(i, j int) bool {
		a, b := conn.Insiders[i], conn.Insiders[j]
		if a.SharedMarkets != b.SharedMarkets {
			return a.SharedMarkets > b.SharedMarkets
		}
		return a.WalletAddress < b.WalletAddress
	})

	conn.InsiderCount = len(conn.Insiders)
	conn.SharedMarkets = len(union)
	conn.Connected = conn.InsiderCount > 0
	return conn, nil
}

// ConnectionInfo reports whether wallet shares at least MinSharedMarkets markets
// with any other confirmed insider.
func (d *Detector) ConnectionInfo(ctx context.Context, wallet string) (*Connection, error) {
	insiders, err := d.insiderSet(ctx)
	if err != nil {
		return nil, err
	}
	return d.connection(ctx, wallet, insiders)
}

// BatchConnectionInfo runs ConnectionInfo for many wallets against one insider snapshot
func (d *Detector) BatchConnectionInfo(ctx context.Context, wallets []string) (map[string]*Connection, error) {
	insiders, err := d.insiderSet(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Connection, len(wallets))
	for _, w := range wallets {
		if _, done := out[w]; done {
			continue
		}
		conn, err := d.connection(ctx, w, insiders)
		if err != nil {
			return nil, err
		}
		out[w] = conn
	}
	return out, nil
}

// RelatedWallets lists every wallet sharing at least MinSharedMarkets markets with
// wallet, insiders first, then by average anomaly score.
func (d *Detector) RelatedWallets(ctx context.Context, wallet string) ([]RelatedWallet, error) {
	shared, err := d.overlap(ctx, wallet)
	if err != nil {
		return nil, err
	}

	var addresses []string
	for w, ids := range shared {
		if len(ids) >= MinSharedMarkets {
			addresses = append(addresses, w)
		}
	}
	if len(addresses) == 0 {
		return []RelatedWallet{}, nil
	}

	insiders, err := d.insiderSet(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := d.store.ListWallets(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	anomaly, err := d.store.WalletAverageAnomaly(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("wallet average anomaly: %w", err)
	}

	related := make([]RelatedWallet, 0, len(addresses))
	for _, w := range addresses {
		r := RelatedWallet{
			WalletAddress: w,
			IsInsider:     insiders[w],
			SharedMarkets: len(shared[w]),
			AvgAnomaly:    anomaly[w],
		}
		if s, ok := stats[w]; ok {
			r.TotalTrades = s.TotalTrades
			r.TotalVolumeUSD = s.TotalVolumeUSD
			r.WinRate = s.WinRate
		}
		related = append(related, r)
	}

	sort.Slice(related, func(i, j int) bool {
		a, b := related[i], related[j]
		if a.IsInsider != b.IsInsider {
			return a.IsInsider
		}
		if a.AvgAnomaly != b.AvgAnomaly {
			return a.AvgAnomaly > b.AvgAnomaly
		}
		if a.SharedMarkets != b.SharedMarkets {
			return a.SharedMarkets > b.SharedMarkets
		}
		return a.WalletAddress < b.WalletAddress
	})

	d.log.WithFields(logrus.Fields{
		"wallet":  wallet,
		"related": len(related),
	}).Debug("Related wallets resolved")
	return related, nil
}
