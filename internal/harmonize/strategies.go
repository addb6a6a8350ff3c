package harmonize

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/feedbackloop/question-engine/internal/models"
)

const (
	defaultMaxFrequencyRatio    = 2.0
	defaultMinFrequencyInterval = 2.0
	maxAlignedFrequency         = 1 << 20

	methodPriorityPreservation = "priority_preservation"
)

// resolution is what a strategy decided for one question
type resolution struct {
	frequency float64
	resolved  int
	method    string
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// LCM returns the least common multiple of the given values rounded to the
// nearest integer; zeros and negatives are ignored. ok is false when nothing
// positive is left.
func LCM(values ...float64) (int64, bool) {
	var out int64
	for _, v := range values {
		n := int64(math.Round(v))
		if n <= 0 {
			continue
		}
		if out == 0 {
			out = n
			continue
		}
		out = out / gcd(out, n) * n
	}
	return out, out > 0
}

func count(conflicts []models.FrequencyConflict, kind models.ConflictType) int {
	n := 0
	for _, c := range conflicts {
		if c.Type == kind {
			n++
		}
	}
	return n
}

// resolveLCM aligns the question's frequency to the LCM of its current and
// target frequency. Overlap conflicts count as resolved only when the
// frequency actually moved.
func resolveLCM(q models.QuestionForHarmonization, conflicts []models.FrequencyConflict) (resolution, error) {
	res := resolution{frequency: q.CurrentFrequency, method: string(models.StrategyLCMFrequency)}
	overlaps := count(conflicts, models.ConflictFrequencyOverlap)
	if overlaps == 0 {
		return res, nil
	}
	aligned, ok := LCM(q.CurrentFrequency, q.TargetFrequency)
	if !ok {
		return res, fmt.Errorf("question %s has no positive frequency to align", q.ID)
	}
	if aligned > maxAlignedFrequency {
		return res, fmt.Errorf("aligned frequency %d for question %s is out of range", aligned, q.ID)
	}
	if float64(aligned) != q.CurrentFrequency {
		res.frequency = float64(aligned)
		res.resolved = overlaps
	}
	return res, nil
}

func ruleMatches(rule models.FrequencyHarmonizer, q models.QuestionForHarmonization) (bool, error) {
	pattern := strings.ToLower(rule.Pattern)
	for _, candidate := range []string{q.Category, q.TopicCategory} {
		if candidate == "" {
			continue
		}
		ok, err := path.Match(pattern, strings.ToLower(candidate))
		if err != nil {
			return false, fmt.Errorf("rule %s has invalid pattern %q: %w", rule.ID, rule.Pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// resolveOverride applies the first active matching business rule. Without a
// match, high-priority questions may still be lifted to their target.
func resolveOverride(q models.QuestionForHarmonization, conflicts []models.FrequencyConflict, rules []models.FrequencyHarmonizer, opts models.HarmonizeOptions) (resolution, error) {
	res := resolution{frequency: q.CurrentFrequency, method: string(models.StrategyBusinessOverride)}
	if len(conflicts) == 0 {
		return res, nil
	}

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		ok, err := ruleMatches(rule, q)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		if rule.OverrideFrequency <= 0 {
			return res, fmt.Errorf("rule %s matches but has no override frequency", rule.ID)
		}
		res.frequency = rule.OverrideFrequency
		res.resolved = len(conflicts)
		return res, nil
	}

	if opts.PreserveHighPriority && q.PriorityLevel >= priorityLevel {
		res.method = methodPriorityPreservation
		res.frequency = math.Max(q.CurrentFrequency, q.TargetFrequency)
		res.resolved = count(conflicts, models.ConflictPriority)
	}
	return res, nil
}

// resolveAdaptive applies one adjustment per conflict type present
func resolveAdaptive(q models.QuestionForHarmonization, conflicts []models.FrequencyConflict, opts models.HarmonizeOptions) (resolution, error) {
	res := resolution{frequency: q.CurrentFrequency, method: string(models.StrategyAdaptive)}

	ratio := opts.MaxFrequencyRatio
	if ratio <= 0 {
		ratio = defaultMaxFrequencyRatio
	}
	interval := opts.MinFrequencyInterval
	if interval <= 0 {
		interval = defaultMinFrequencyInterval
	}

	if n := count(conflicts, models.ConflictFrequencyOverlap); n > 0 {
		res.frequency *= ratio
		res.resolved += n
	}
	if n := count(conflicts, models.ConflictTimingCollision); n > 0 {
		if res.frequency < interval {
			res.frequency = interval
		}
		res.resolved += n
	}
	if n := count(conflicts, models.ConflictPriority); n > 0 {
		res.frequency *= 1 + float64(q.PriorityLevel)/5
		res.resolved += n
	}
	return res, nil
}
