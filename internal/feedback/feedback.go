// Package feedback runs one retraining iteration: newly confirmed insiders are
// folded into the insider baselines and pattern validation, trades are
// optionally rescored, and a fresh discovery batch is drawn.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/investigation"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/scoring"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// ErrInvalidOptions is returned for malformed loop options; nothing runs
var ErrInvalidOptions = errors.New("invalid feedback options")

var validate = validator.New()

// Step names, in execution order
const (
	StepMarkTrained      = "mark_trained"
	StepInsiderBaselines = "insider_baselines"
	StepValidatePatterns = "validate_patterns"
	StepRescore          = "rescore"
	StepDiscovery        = "discovery"
)

// Store is the persistence the loop reads directly
type Store interface {
	MarkInsidersTrained(ctx context.Context) (int64, error)
	ListBaselines(ctx context.Context) ([]storage.PatternBaseline, error)
	ListPatterns(ctx context.Context, activeOnly bool) ([]storage.InsiderPattern, error)
	CountConfirmedInsiders(ctx context.Context) (storage.InsiderCounts, error)
	CountCandidates(ctx context.Context) (int64, error)
	CreateFeedbackRun(ctx context.Context, run *storage.FeedbackRun) error
	LatestFeedbackIteration(ctx context.Context) (int, error)
}

// BaselineTrainer recomputes the insider side of the baselines
type BaselineTrainer interface {
	CalculateInsiderBaselines(ctx context.Context) (*baseline.InsiderResult, error)
}

// PatternValidator re-measures every pattern against the ground truth
type PatternValidator interface {
	ValidatePatterns(ctx context.Context) (*patterns.ValidationResult, error)
}

// Rescorer replaces every trade score
type Rescorer interface {
	RescoreAllTrades(ctx context.Context, opts scoring.Options) (*scoring.BatchResult, error)
}

// Discoverer draws a discovery batch
type Discoverer interface {
	Discover(ctx context.Context, opts investigation.DiscoveryOptions) (*investigation.DiscoveryResult, error)
}

// Options tunes one iteration
type Options struct {
	Rescore    *bool                          `json:"rescore"` // nil uses configuration
	Scoring    scoring.Options                `json:"scoring"`
	Discovery  investigation.DiscoveryOptions `json:"discovery"`
	Thresholds *ThresholdOverrides            `json:"thresholds"` // nil uses configuration
}

// StepResult is the outcome of one step
type StepResult struct {
	Name     string      `json:"name"`
	Skipped  bool        `json:"skipped,omitempty"`
	Duration string      `json:"duration"`
	Result   interface{} `json:"result,omitempty"`
}

// Result describes one completed iteration
type Result struct {
	Iteration    int          `json:"iteration"`
	Steps        []StepResult `json:"steps"`
	PreStats     Snapshot     `json:"pre_stats"`
	PostStats    Snapshot     `json:"post_stats"`
	Improvements Improvements `json:"improvements"`
}

// Loop orchestrates the feedback iteration
type Loop struct {
	cfg        *config.Config
	store      Store
	baselines  BaselineTrainer
	validator  PatternValidator
	rescorer   Rescorer
	discoverer Discoverer
	log        *logrus.Logger
}

// New creates the orchestrator
func New(cfg *config.Config, store Store, baselines BaselineTrainer, validator PatternValidator, rescorer Rescorer, discoverer Discoverer, log *logrus.Logger) *Loop {
	return &Loop{
		cfg:        cfg,
		store:      store,
		baselines:  baselines,
		validator:  validator,
		rescorer:   rescorer,
		discoverer: discoverer,
		log:        log,
	}
}

// Snapshot measures current detection quality
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot

	baselines, err := l.store.ListBaselines(ctx)
	if err != nil {
		return s, fmt.Errorf("list baselines: %w", err)
	}
	var sepSum float64
	for _, b := range baselines {
		if b.SeparationScore != nil {
			sepSum += *b.SeparationScore
			s.SeparationMetrics++
		}
	}
	if s.SeparationMetrics > 0 {
		s.AvgSeparation = sepSum / float64(s.SeparationMetrics)
	}

	pats, err := l.store.ListPatterns(ctx, true)
	if err != nil {
		return s, fmt.Errorf("list patterns: %w", err)
	}
	var f1Sum float64
	for _, p := range pats {
		if p.F1Score == nil {
			continue
		}
		f1Sum += *p.F1Score
		s.BestF1 = max(s.BestF1, *p.F1Score)
		s.ValidatedPatterns++
	}
	if s.ValidatedPatterns > 0 {
		s.AvgF1 = f1Sum / float64(s.ValidatedPatterns)
	}

	counts, err := l.store.CountConfirmedInsiders(ctx)
	if err != nil {
		return s, fmt.Errorf("count confirmed insiders: %w", err)
	}
	s.ConfirmedInsiders, s.TrainedInsiders = counts.Total, counts.Trained

	if s.Candidates, err = l.store.CountCandidates(ctx); err != nil {
		return s, fmt.Errorf("count candidates: %w", err)
	}
	return s, nil
}

// RunFeedbackLoop runs the five steps in order and records the iteration.
// Every step is idempotent, so a failed iteration is recovered by running it again.
func (l *Loop) RunFeedbackLoop(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	result, err := l.run(ctx, opts)
	metrics.RecordJob("feedback_loop", time.Since(start), err)
	return result, err
}

// thresholds overlays the request overrides on the configured deltas
func (l *Loop) thresholds(opts Options) (Thresholds, error) {
	th := ThresholdsFromConfig(l.cfg)
	if opts.Thresholds != nil {
		th = opts.Thresholds.Apply(th)
	}
	if err := validate.Struct(th); err != nil {
		return Thresholds{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return th, nil
}

func (l *Loop) run(ctx context.Context, opts Options) (*Result, error) {
	thresholds, err := l.thresholds(opts)
	if err != nil {
		return nil, err
	}
	rescore := l.cfg.FeedbackRescore
	if opts.Rescore != nil {
		rescore = *opts.Rescore
	}

	latest, err := l.store.LatestFeedbackIteration(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest feedback iteration: %w", err)
	}
	startedTS := time.Now().Unix()
	result := &Result{Iteration: latest + 1}
	logger := l.log.WithField("iteration", result.Iteration)
	logger.Info("Feedback loop starting")

	if result.PreStats, err = l.Snapshot(ctx); err != nil {
		return nil, fmt.Errorf("pre snapshot: %w", err)
	}

	steps := []struct {
		name string
		skip bool
		run  func() (interface{}, error)
	}{
		{StepMarkTrained, false, func() (interface{}, error) {
			n, err := l.store.MarkInsidersTrained(ctx)
			return map[string]int64{"marked": n}, err
		}},
		{StepInsiderBaselines, false, func() (interface{}, error) {
			return l.baselines.CalculateInsiderBaselines(ctx)
		}},
		{StepValidatePatterns, false, func() (interface{}, error) {
			return l.validator.ValidatePatterns(ctx)
		}},
		{StepRescore, !rescore, func() (interface{}, error) {
			return l.rescorer.RescoreAllTrades(ctx, opts.Scoring)
		}},
		{StepDiscovery, false, func() (interface{}, error) {
			return l.discoverer.Discover(ctx, opts.Discovery)
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if step.skip {
			result.Steps = append(result.Steps, StepResult{Name: step.name, Skipped: true})
			continue
		}

		stepStart := time.Now()
		out, err := step.run()
		if err != nil {
			logger.WithError(err).WithField("step", step.name).Error("Feedback step failed")
			return result, fmt.Errorf("feedback step %s: %w", step.name, err)
		}
		result.Steps = append(result.Steps, StepResult{
			Name:     step.name,
			Duration: time.Since(stepStart).String(),
			Result:   out,
		})
		logger.WithFields(logrus.Fields{
			"step":     step.name,
			"duration": time.Since(stepStart).String(),
		}).Info("Feedback step complete")
	}

	if result.PostStats, err = l.Snapshot(ctx); err != nil {
		return result, fmt.Errorf("post snapshot: %w", err)
	}
	result.Improvements = Compare(result.PreStats, result.PostStats, thresholds)

	if err := l.record(ctx, result, startedTS); err != nil {
		return result, err
	}

	logger.WithFields(logrus.Fields{
		"classification":   result.Improvements.Classification,
		"separation_delta": result.Improvements.SeparationDelta,
		"f1_delta":         result.Improvements.F1Delta,
		"newly_trained":    result.Improvements.NewlyTrained,
		"new_candidates":   result.Improvements.NewCandidates,
	}).Info("Feedback loop complete")

	return result, nil
}

func (l *Loop) record(ctx context.Context, result *Result, startedTS int64) error {
	pre, err := toMap(result.PreStats)
	if err != nil {
		return err
	}
	post, err := toMap(result.PostStats)
	if err != nil {
		return err
	}
	steps := make([]string, 0, len(result.Steps))
	for _, s := range result.Steps {
		if !s.Skipped {
			steps = append(steps, s.Name)
		}
	}

	run := &storage.FeedbackRun{
		Iteration:   result.Iteration,
		PreStats:    pre,
		PostStats:   post,
		Improvement: result.Improvements.Classification,
		Steps:       steps,
		StartedTS:   startedTS,
		CompletedTS: time.Now().Unix(),
	}
	if err := l.store.CreateFeedbackRun(ctx, run); err != nil {
		return fmt.Errorf("record feedback run: %w", err)
	}
	return nil
}

// toMap flattens a snapshot into its JSON form for storage
func toMap(s Snapshot) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return out, nil
}
