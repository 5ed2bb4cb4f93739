// Package triggers implements the Event-Trigger Scoring engine from
// §4.M: content is run through a fixed taxonomy of trigger patterns,
// each exposing matches/confidence, and the highest-confidence pattern
// clearing its threshold boosts importance multiplicatively. Each
// pattern pairs a compiled regexp and keyword list with a confidence
// score and threshold.
package triggers

import (
	"regexp"
	"strings"
)

// EventType is one entry in the §4.M trigger taxonomy.
type EventType string

const (
	Security  EventType = "security"
	Error     EventType = "error"
	Milestone EventType = "milestone"
	Config    EventType = "config"
	Insight   EventType = "insight"
	Decision  EventType = "decision"
	Other     EventType = "other"
)

// Pattern is one compiled trigger definition.
type Pattern struct {
	Type                EventType
	regex               *regexp.Regexp
	keywords            []string
	ConfidenceThreshold float64
	BoostFactor         float64
}

// matches reports whether the pattern's regex fires against text.
func (p Pattern) matches(text string) bool {
	return p.regex.MatchString(text)
}

// confidence derives a [0,1] score from keyword-hit density and regex
// anchoring (§4.M): a regex match contributes a fixed base score, and
// keyword hits add their density (distinct hits / keywords) times 0.5.
func (p Pattern) confidence(text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	if p.regex.MatchString(text) {
		score += 0.6
	}
	if len(p.keywords) == 0 {
		return clamp01(score)
	}
	hits := 0
	for _, kw := range p.keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	density := float64(hits) / float64(len(p.keywords))
	score += density * 0.5
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DefaultPatterns is the fixed §4.M taxonomy: seven trigger types, each
// with a regex, keyword list, confidence threshold, and boost factor.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Type:                Security,
			regex:               regexp.MustCompile(`(?i)(security|vulnerability|exploit|cve-\d+|authentication|unauthorized|breach)`),
			keywords:            []string{"security", "vulnerability", "exploit", "authentication", "breach", "unauthorized"},
			ConfidenceThreshold: 0.6,
			BoostFactor:         1.5,
		},
		{
			Type:                Error,
			regex:               regexp.MustCompile(`(?i)(error|exception|panic|crash|failure|stack trace|traceback)`),
			keywords:            []string{"error", "exception", "panic", "crash", "failure", "traceback"},
			ConfidenceThreshold: 0.6,
			BoostFactor:         1.3,
		},
		{
			Type:                Milestone,
			regex:               regexp.MustCompile(`(?i)(released?|shipped|launch|milestone|v\d+\.\d+|completed project)`),
			keywords:            []string{"released", "shipped", "launch", "milestone", "completed"},
			ConfidenceThreshold: 0.6,
			BoostFactor:         1.4,
		},
		{
			Type:                Config,
			regex:               regexp.MustCompile(`(?i)(config(uration)?|environment variable|\.env|settings changed|feature flag)`),
			keywords:            []string{"config", "configuration", "environment variable", "settings", "feature flag"},
			ConfidenceThreshold: 0.55,
			BoostFactor:         1.2,
		},
		{
			Type:                Insight,
			regex:               regexp.MustCompile(`(?i)(insight|realized|discovered|turns out|root cause|pattern emerged)`),
			keywords:            []string{"insight", "realized", "discovered", "root cause", "pattern"},
			ConfidenceThreshold: 0.55,
			BoostFactor:         1.35,
		},
		{
			Type:                Decision,
			regex:               regexp.MustCompile(`(?i)(decided|decision|we will|going with|chose to|agreed to)`),
			keywords:            []string{"decided", "decision", "going with", "chose", "agreed"},
			ConfidenceThreshold: 0.55,
			BoostFactor:         1.3,
		},
		{
			Type:                Other,
			regex:               regexp.MustCompile(`(?i)(noted|observed|mentioned|fyi|update:|reminder)`),
			keywords:            []string{"noted", "observed", "mentioned", "fyi", "update", "reminder"},
			ConfidenceThreshold: 0.4,
			BoostFactor:         1.0,
		},
	}
}

// Result is the Scoring Engine's output shape (§4.M).
type Result struct {
	Triggered          bool
	TriggerType        EventType
	Confidence         float64
	OriginalImportance float64
	BoostedImportance  float64
}

// Engine runs content through a fixed set of trigger patterns.
type Engine struct {
	patterns []Pattern
}

// New builds an Engine with DefaultPatterns.
func New() *Engine {
	return &Engine{patterns: DefaultPatterns()}
}

// NewWithPatterns builds an Engine over a caller-supplied pattern set,
// for tests that need deterministic or narrowed taxonomies.
func NewWithPatterns(patterns []Pattern) *Engine {
	return &Engine{patterns: patterns}
}

// Analyze scores content against every pattern; the highest-confidence
// pattern clearing its own threshold wins, boosting importance
// multiplicatively and clamping to 1.0 (§4.M).
func (e *Engine) Analyze(content string, baseImportance float64) Result {
	var winner *Pattern
	var best float64

	for i := range e.patterns {
		p := &e.patterns[i]
		if !p.matches(content) {
			continue
		}
		conf := p.confidence(content)
		if conf < p.ConfidenceThreshold {
			continue
		}
		if winner == nil || conf > best {
			winner = p
			best = conf
		}
	}

	if winner == nil {
		return Result{
			Triggered:          false,
			Confidence:         0,
			OriginalImportance: baseImportance,
			BoostedImportance:  baseImportance,
		}
	}

	boosted := baseImportance * winner.BoostFactor
	if boosted > 1 {
		boosted = 1
	}
	return Result{
		Triggered:          true,
		TriggerType:        winner.Type,
		Confidence:         best,
		OriginalImportance: baseImportance,
		BoostedImportance:  boosted,
	}
}
