package feedback

import "github.com/liamashdown/insiderlens/internal/config"

// Improvement classifications, best first
const (
	SignificantImprovement = "significant_improvement"
	ModerateImprovement    = "moderate_improvement"
	SlightImprovement      = "slight_improvement"
	NoChange               = "no_change"
	Regression             = "regression"
)

// Thresholds are the deltas on average separation score and average F1 that
// separate one classification from the next.
type Thresholds struct {
	SignificantSeparation float64 `json:"significant_separation" validate:"gte=0"`
	SignificantF1         float64 `json:"significant_f1" validate:"gte=0"`
	ModerateSeparation    float64 `json:"moderate_separation" validate:"gte=0"`
	ModerateF1            float64 `json:"moderate_f1" validate:"gte=0"`
	RegressionTolerance   float64 `json:"regression_tolerance" validate:"gte=0"`
}

// ThresholdOverrides replaces single deltas of the configured Thresholds.
// A nil field keeps the configured value; an explicit zero is honored.
type ThresholdOverrides struct {
	SignificantSeparation *float64 `json:"significant_separation"`
	SignificantF1         *float64 `json:"significant_f1"`
	ModerateSeparation    *float64 `json:"moderate_separation"`
	ModerateF1            *float64 `json:"moderate_f1"`
	RegressionTolerance   *float64 `json:"regression_tolerance"`
}

// Apply returns th with every set override in place
func (o ThresholdOverrides) Apply(th Thresholds) Thresholds {
	for _, f := range []struct {
		src *float64
		dst *float64
	}{
		{o.SignificantSeparation, &th.SignificantSeparation},
		{o.SignificantF1, &th.SignificantF1},
		{o.ModerateSeparation, &th.ModerateSeparation},
		{o.ModerateF1, &th.ModerateF1},
		{o.RegressionTolerance, &th.RegressionTolerance},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	return th
}

// ThresholdsFromConfig copies the configured deltas
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		SignificantSeparation: cfg.SignificantSeparationDelta,
		SignificantF1:         cfg.SignificantF1Delta,
		ModerateSeparation:    cfg.ModerateSeparationDelta,
		ModerateF1:            cfg.ModerateF1Delta,
		RegressionTolerance:   cfg.RegressionTolerance,
	}
}

// Snapshot is the detection quality at one point of the loop
type Snapshot struct {
	AvgSeparation     float64 `json:"avg_separation_score"`
	SeparationMetrics int     `json:"separation_metrics"`
	AvgF1             float64 `json:"avg_f1"`
	BestF1            float64 `json:"best_f1"`
	ValidatedPatterns int     `json:"validated_patterns"`
	ConfirmedInsiders int64   `json:"confirmed_insiders"`
	TrainedInsiders   int64   `json:"trained_insiders"`
	Candidates        int64   `json:"candidates"`
}

// Improvements is the diff between the snapshots around one iteration
type Improvements struct {
	Classification  string  `json:"classification"`
	SeparationDelta float64 `json:"separation_delta"`
	F1Delta         float64 `json:"f1_delta"`
	BestF1Delta     float64 `json:"best_f1_delta"`
	NewlyTrained    int64   `json:"newly_trained"`
	NewCandidates   int64   `json:"new_candidates"`
}

// deltaEpsilon absorbs float error in deltas, so 0.43-0.40 reaches a 0.03 threshold
const deltaEpsilon = 1e-9

func reaches(delta, threshold float64) bool {
	return delta >= threshold-deltaEpsilon
}

// Compare diffs two snapshots. A drop beyond the tolerance in either quality
// measure is a regression regardless of the other.
func Compare(pre, post Snapshot, th Thresholds) Improvements {
	imp := Improvements{
		SeparationDelta: post.AvgSeparation - pre.AvgSeparation,
		F1Delta:         post.AvgF1 - pre.AvgF1,
		BestF1Delta:     post.BestF1 - pre.BestF1,
		NewlyTrained:    post.TrainedInsiders - pre.TrainedInsiders,
		NewCandidates:   post.Candidates - pre.Candidates,
	}

	dSep, dF1 := imp.SeparationDelta, imp.F1Delta
	switch {
	case dSep < -th.RegressionTolerance-deltaEpsilon || dF1 < -th.RegressionTolerance-deltaEpsilon:
		imp.Classification = Regression
	case reaches(dSep, th.SignificantSeparation) || reaches(dF1, th.SignificantF1):
		imp.Classification = SignificantImprovement
	case reaches(dSep, th.ModerateSeparation) || reaches(dF1, th.ModerateF1):
		imp.Classification = ModerateImprovement
	case dSep > th.RegressionTolerance+deltaEpsilon || dF1 > th.RegressionTolerance+deltaEpsilon:
		imp.Classification = SlightImprovement
	default:
		imp.Classification = NoChange
	}
	return imp
}
