// Package patterns evaluates named rule sets against scored trades and measures
// how well each rule set separates confirmed insiders from everything else.
package patterns

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPattern is returned for malformed pattern definitions; nothing is written.
var ErrInvalidPattern = errors.New("invalid pattern")

//go:embed seeds.yaml
var seedYAML []byte

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		return operators[fl.Field().String()]
	})
	_ = validate.RegisterValidation("contextkey", func(fl validator.FieldLevel) bool {
		return KeyKind(fl.Field().String()) != KindInvalid
	})
}

// Definition is an analyst- or seed-supplied pattern
type Definition struct {
	Name           string      `json:"name" yaml:"name" validate:"required,max=128"`
	Description    string      `json:"description" yaml:"description"`
	Conditions     []Condition `json:"conditions" yaml:"conditions" validate:"required,min=1,dive"`
	Logic          string      `json:"logic" yaml:"logic" default:"AND" validate:"oneof=AND OR"`
	MinMatches     int         `json:"min_matches" yaml:"min_matches" validate:"gte=0"`
	AlertThreshold float64     `json:"alert_threshold" yaml:"alert_threshold" validate:"gt=0,lte=1"`
	IsActive       *bool       `json:"is_active" yaml:"is_active" default:"true"`
}

// Validate applies defaults and checks the definition
func (d *Definition) Validate() error {
	if err := defaults.Set(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	d.Logic = strings.ToUpper(d.Logic)
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	for i, c := range d.Conditions {
		if !c.Value.Valid() {
			return fmt.Errorf("%w: condition %d has no value", ErrInvalidPattern, i)
		}
		if want := KeyKind(c.Metric); c.Value.Kind() != want {
			return fmt.Errorf("%w: condition %d compares %s (%s) with a %s", ErrInvalidPattern, i, c.Metric, want, c.Value.Kind())
		}
		if c.Value.Kind() == KindBool && c.Operator != OpEQ && c.Operator != OpNE {
			return fmt.Errorf("%w: condition %d orders a boolean with %s", ErrInvalidPattern, i, c.Operator)
		}
	}
	if d.MinMatches > 0 {
		if d.Logic != LogicOr {
			return fmt.Errorf("%w: min_matches requires OR logic", ErrInvalidPattern)
		}
		if d.MinMatches > len(d.Conditions) {
			return fmt.Errorf("%w: min_matches %d exceeds %d conditions", ErrInvalidPattern, d.MinMatches, len(d.Conditions))
		}
	}
	return nil
}

// Store is the persistence the engine needs
type Store interface {
	ListPatterns(ctx context.Context, activeOnly bool) ([]storage.InsiderPattern, error)
	GetPatternByName(ctx context.Context, name string) (*storage.InsiderPattern, error)
	SavePattern(ctx context.Context, p *storage.InsiderPattern) error
	ListConfirmedInsiders(ctx context.Context, trainedOnly bool) ([]storage.ConfirmedInsider, error)
	ListScoredTrades(ctx context.Context, page storage.ScorePage) ([]storage.TradeScore, error)
}

// Engine manages, evaluates and validates patterns
type Engine struct {
	cfg   *config.Config
	store Store
	log   *logrus.Logger
}

// New creates a pattern engine
func New(cfg *config.Config, store Store, log *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, store: store, log: log}
}

// SavePattern validates a definition and upserts it by name. Cached validation
// metrics of an existing pattern are kept.
func (e *Engine) SavePattern(ctx context.Context, def Definition) (*storage.InsiderPattern, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	p, err := e.store.GetPatternByName(ctx, def.Name)
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", def.Name, err)
	}
	if p == nil {
		p = &storage.InsiderPattern{Name: def.Name}
	}
	p.Description = def.Description
	p.Conditions = toModelConditions(def.Conditions)
	p.Logic = def.Logic
	p.MinMatches = def.MinMatches
	p.AlertThreshold = def.AlertThreshold
	p.IsActive = *def.IsActive

	if err := e.store.SavePattern(ctx, p); err != nil {
		return nil, fmt.Errorf("save pattern %s: %w", def.Name, err)
	}
	return p, nil
}

// SeedPatterns upserts the built-in patterns
func (e *Engine) SeedPatterns(ctx context.Context) (int, error) {
	defs, err := LoadDefinitions(seedYAML)
	if err != nil {
		return 0, err
	}
	for _, def := range defs {
		if _, err := e.SavePattern(ctx, def); err != nil {
			return 0, fmt.Errorf("seed %s: %w", def.Name, err)
		}
	}
	e.log.WithField("patterns", len(defs)).Info("Seed patterns loaded")
	return len(defs), nil
}

// LoadDefinitions decodes a YAML document of the form {patterns: [...]}
func LoadDefinitions(data []byte) ([]Definition, error) {
	var doc struct {
		Patterns []Definition `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidPattern, err)
	}
	return doc.Patterns, nil
}

// ListPatterns returns every pattern
func (e *Engine) ListPatterns(ctx context.Context) ([]storage.InsiderPattern, error) {
	return e.store.ListPatterns(ctx, false)
}

// GetPattern returns one pattern or storage.ErrNotFound
func (e *Engine) GetPattern(ctx context.Context, name string) (*storage.InsiderPattern, error) {
	p, err := e.store.GetPatternByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("pattern %s: %w", name, storage.ErrNotFound)
	}
	return p, nil
}

// ActivePatterns loads the active patterns in evaluable form. Malformed rows are logged and skipped.
func (e *Engine) ActivePatterns(ctx context.Context) ([]Pattern, error) {
	models, err := e.store.ListPatterns(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}
	return e.compile(models), nil
}

func (e *Engine) compile(models []storage.InsiderPattern) []Pattern {
	out := make([]Pattern, 0, len(models))
	for _, m := range models {
		p, err := FromModel(m)
		if err != nil {
			e.log.WithError(err).WithField("pattern", m.Name).Warn("Skipping malformed pattern")
			continue
		}
		out = append(out, p)
	}
	return out
}

// MatchPatterns evaluates every active pattern against one scored trade
func (e *Engine) MatchPatterns(ctx context.Context, t *storage.Trade, s *storage.TradeScore) (map[string]float64, error) {
	active, err := e.ActivePatterns(ctx)
	if err != nil {
		return nil, err
	}
	return Match(active, BuildContext(t, s)), nil
}
