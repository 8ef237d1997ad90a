// Package investigation discovers ranked insider candidates from scored trades
// and tracks each one through the analyst workflow.
package investigation

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/liamashdown/insiderlens/internal/alerts"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// Store is the persistence the service needs
type Store interface {
	ListDiscoveryCandidates(ctx context.Context, q storage.DiscoveryQuery) ([]storage.TradeScore, error)
	DiscoveryStats(ctx context.Context, q storage.DiscoveryQuery) (markets, trades int64, err error)
	CreateBatch(ctx context.Context, b *storage.DiscoveryBatch) error
	SaveBatch(ctx context.Context, b *storage.DiscoveryBatch) error
	GetBatch(ctx context.Context, id string) (*storage.DiscoveryBatch, error)
	CreateCandidates(ctx context.Context, candidates []storage.InvestigationCandidate) error
	GetCandidate(ctx context.Context, id int64) (*storage.InvestigationCandidate, error)
	SaveCandidate(ctx context.Context, c *storage.InvestigationCandidate) error
	ResolveCandidate(ctx context.Context, c *storage.InvestigationCandidate, insider *storage.ConfirmedInsider) error
	ListCandidates(ctx context.Context, f storage.CandidateFilter) ([]storage.InvestigationCandidate, error)
	CreateConfirmedInsider(ctx context.Context, c *storage.ConfirmedInsider) error
}

// Service runs discovery and the investigation workflow
type Service struct {
	cfg    *config.Config
	store  Store
	sender alerts.Sender
	log    *logrus.Logger
}

// New creates the service. sender may be nil to disable candidate alerts.
func New(cfg *config.Config, store Store, sender alerts.Sender, log *logrus.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		sender: sender,
		log:    log,
	}
}

// GetCandidate retrieves a candidate
func (s *Service) GetCandidate(ctx context.Context, id int64) (*storage.InvestigationCandidate, error) {
	c, err := s.store.GetCandidate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get candidate %d: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("candidate %d: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

// GetBatch retrieves a discovery batch
func (s *Service) GetBatch(ctx context.Context, id string) (*storage.DiscoveryBatch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	if b == nil {
		return nil, fmt.Errorf("batch %s: %w", id, storage.ErrNotFound)
	}
	return b, nil
}

// ListCandidates lists candidates, most probable first
func (s *Service) ListCandidates(ctx context.Context, f storage.CandidateFilter) ([]storage.InvestigationCandidate, error) {
	if f.Status != "" && !Status(f.Status).Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	candidates, err := s.store.ListCandidates(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return candidates, nil
}
