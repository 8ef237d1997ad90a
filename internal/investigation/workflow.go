package investigation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// EvidenceInput is one evidence item supplied by an investigator
type EvidenceInput struct {
	Type        string         `json:"type" validate:"required,max=64"`
	Description string         `json:"description" validate:"required"`
	Data        map[string]any `json:"data"`
	AddedBy     string         `json:"added_by" validate:"max=128"`
}

// ResolveInput closes an investigation
type ResolveInput struct {
	Resolution         string          `json:"resolution" validate:"required,oneof=confirmed_insider likely_insider insufficient_evidence cleared"`
	Notes              string          `json:"notes"`
	Evidence           []EvidenceInput `json:"evidence" validate:"dive"`
	ResolvedBy         string          `json:"resolved_by" validate:"max=128"`
	ConfirmationSource string          `json:"confirmation_source" default:"investigation" validate:"max=64"`
}

// InsiderInput is a manually recorded ground-truth label
type InsiderInput struct {
	WalletAddress      string         `json:"wallet_address" validate:"required,max=128"`
	TradeID            *int64         `json:"trade_id"`
	MarketID           *int64         `json:"market_id"`
	ConfidenceLevel    string         `json:"confidence_level" validate:"required,oneof=suspected likely confirmed"`
	ConfirmationSource string         `json:"confirmation_source" default:"manual" validate:"max=64"`
	Evidence           map[string]any `json:"evidence"`
}

// ResolveResult is the resolved candidate and the label it produced, if any
type ResolveResult struct {
	Candidate *storage.InvestigationCandidate `json:"candidate"`
	Insider   *storage.ConfirmedInsider       `json:"confirmed_insider,omitempty"`
}

func validateInput(v interface{}) error {
	if err := defaults.Set(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (s *Service) transition(c *storage.InvestigationCandidate, to Status) error {
	if err := Transition(Status(c.Status), to); err != nil {
		return fmt.Errorf("candidate %d: %w", c.ID, err)
	}
	c.Status = string(to)
	return nil
}

func (s *Service) logTransition(c *storage.InvestigationCandidate, from string) {
	metrics.RecordTransition(c.Status)
	s.log.WithFields(logrus.Fields{
		"candidate_id": c.ID,
		"trade_id":     c.TradeID,
		"from":         from,
		"to":           c.Status,
	}).Info("Candidate status changed")
}

// StartInvestigation assigns an investigator and moves the candidate to investigating
func (s *Service) StartInvestigation(ctx context.Context, id int64, investigator string) (*storage.InvestigationCandidate, error) {
	investigator = strings.TrimSpace(investigator)
	if investigator == "" {
		return nil, fmt.Errorf("%w: investigator is required", ErrValidation)
	}

	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := s.transition(c, StatusInvestigating); err != nil {
		return nil, err
	}
	c.AssignedTo = investigator
	c.InvestigationStartedTS = time.Now().Unix()

	if err := s.store.SaveCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("save candidate %d: %w", id, err)
	}
	s.logTransition(c, from)
	return c, nil
}

// ResolveCandidate closes an investigation. Insider resolutions record exactly one
// ConfirmedInsider linked to the candidate's trade, atomically with the status change.
func (s *Service) ResolveCandidate(ctx context.Context, id int64, input ResolveInput) (*ResolveResult, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}

	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := s.transition(c, StatusResolved); err != nil {
		return nil, err
	}

	now := time.Now()
	c.Resolution = input.Resolution
	c.ResolvedTS = now.Unix()
	for _, e := range input.Evidence {
		c.Evidence = append(c.Evidence, newEvidence(e, now))
	}
	if note := strings.TrimSpace(input.Notes); note != "" {
		c.Notes = appendNote(c.Notes, input.ResolvedBy, note, now)
	}

	var insider *storage.ConfirmedInsider
	if confidence, ok := confidenceFor[input.Resolution]; ok {
		tradeID, marketID, candidateID := c.TradeID, c.MarketID, c.ID
		insider = &storage.ConfirmedInsider{
			WalletAddress:      c.WalletAddress,
			TradeID:            &tradeID,
			MarketID:           &marketID,
			CandidateID:        &candidateID,
			ConfidenceLevel:    confidence,
			ConfirmationSource: input.ConfirmationSource,
			Evidence: map[string]any{
				"resolution":          input.Resolution,
				"resolved_by":         input.ResolvedBy,
				"batch_id":            c.BatchID,
				"anomaly_score":       c.AnomalyScore,
				"insider_probability": c.InsiderProbability,
				"evidence":            c.Evidence,
			},
			ConfirmedTS: now.Unix(),
		}
	}

	if err := s.store.ResolveCandidate(ctx, c, insider); err != nil {
		return nil, fmt.Errorf("resolve candidate %d: %w", id, err)
	}
	s.logTransition(c, from)
	if insider != nil {
		s.log.WithFields(logrus.Fields{
			"candidate_id": c.ID,
			"wallet":       insider.WalletAddress,
			"confidence":   insider.ConfidenceLevel,
		}).Info("Confirmed insider recorded")
	}

	return &ResolveResult{Candidate: c, Insider: insider}, nil
}

// DismissCandidate closes an investigation without a finding. reason is required.
func (s *Service) DismissCandidate(ctx context.Context, id int64, reason string) (*storage.InvestigationCandidate, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dismiss reason is required", ErrValidation)
	}

	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := s.transition(c, StatusDismissed); err != nil {
		return nil, err
	}
	c.DismissReason = reason
	c.ResolvedTS = time.Now().Unix()

	if err := s.store.SaveCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("save candidate %d: %w", id, err)
	}
	s.logTransition(c, from)
	return c, nil
}

// AddEvidence attaches an evidence item to a candidate in any status
func (s *Service) AddEvidence(ctx context.Context, id int64, input EvidenceInput) (*storage.Evidence, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}

	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	e := newEvidence(input, time.Now())
	c.Evidence = append(c.Evidence, e)

	if err := s.store.SaveCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("save candidate %d: %w", id, err)
	}
	return &e, nil
}

// AddInvestigationNote appends a timestamped, attributed note
func (s *Service) AddInvestigationNote(ctx context.Context, id int64, author, note string) (*storage.InvestigationCandidate, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("%w: note is required", ErrValidation)
	}

	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Notes = appendNote(c.Notes, author, note, time.Now())

	if err := s.store.SaveCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("save candidate %d: %w", id, err)
	}
	return c, nil
}

// RecordConfirmedInsider records a label that didn't come through the candidate workflow
func (s *Service) RecordConfirmedInsider(ctx context.Context, input InsiderInput) (*storage.ConfirmedInsider, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}

	insider := &storage.ConfirmedInsider{
		WalletAddress:      strings.TrimSpace(input.WalletAddress),
		TradeID:            input.TradeID,
		MarketID:           input.MarketID,
		ConfidenceLevel:    input.ConfidenceLevel,
		ConfirmationSource: input.ConfirmationSource,
		Evidence:           input.Evidence,
		ConfirmedTS:        time.Now().Unix(),
	}
	if err := s.store.CreateConfirmedInsider(ctx, insider); err != nil {
		return nil, fmt.Errorf("create confirmed insider: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"wallet":     insider.WalletAddress,
		"confidence": insider.ConfidenceLevel,
		"source":     insider.ConfirmationSource,
	}).Info("Confirmed insider recorded")
	return insider, nil
}

func newEvidence(in EvidenceInput, now time.Time) storage.Evidence {
	return storage.Evidence{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Description: in.Description,
		Data:        in.Data,
		AddedBy:     in.AddedBy,
		AddedTS:     now.Unix(),
	}
}

func appendNote(notes, author, note string, now time.Time) string {
	if author = strings.TrimSpace(author); author == "" {
		author = "unknown"
	}
	line := fmt.Sprintf("[%s] %s: %s", now.UTC().Format(time.RFC3339), author, note)
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
