package scoring

import (
	"strings"

	"github.com/quest-group/content-engine/internal/model"
)

// AmbiguityWeights holds the fixed combination weights for the five
// identity signals. Values come from config; DefaultAmbiguityWeights is
// the most frequently observed production tuning.
type AmbiguityWeights struct {
	NameURLMatch     float64 `yaml:"name_url" mapstructure:"name_url"`
	CategoryCoverage float64 `yaml:"category" mapstructure:"category"`
	CrossConsistency float64 `yaml:"consistency" mapstructure:"consistency"`
	NoHomonymWarning float64 `yaml:"homonym" mapstructure:"homonym"`
	CoreFieldsFilled float64 `yaml:"core_fields" mapstructure:"core_fields"`
}

// DefaultAmbiguityWeights returns the standard 0.30/0.25/0.20/0.15/0.10 split.
func DefaultAmbiguityWeights() AmbiguityWeights {
	return AmbiguityWeights{
		NameURLMatch:     0.30,
		CategoryCoverage: 0.25,
		CrossConsistency: 0.20,
		NoHomonymWarning: 0.15,
		CoreFieldsFilled: 0.10,
	}
}

// ReresearchThreshold is the confidence below which a single refined
// re-research wave may be triggered.
const ReresearchThreshold = 0.70

// Confidence combines the five signals into a single score in [0,1].
func (w AmbiguityWeights) Confidence(s model.AmbiguitySignals) float64 {
	c := s.NameURLMatch*w.NameURLMatch +
		s.CategoryCoverage*w.CategoryCoverage +
		s.CrossConsistency*w.CrossConsistency +
		s.NoHomonymWarning*w.NoHomonymWarning +
		s.CoreFieldsFilled*w.CoreFieldsFilled
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// SignalInputs is what the ambiguity scorer derives its signals from.
type SignalInputs struct {
	LegalName    string
	Host         string
	Category     string
	GatheredText string
	// LegalNames seen per source, for cross-consistency.
	SourceNames []string
	// Homonym warnings detected during research.
	HomonymWarnings int
	// Core structured fields present out of the essential five.
	CoreFieldsPresent int
	CoreFieldsTotal   int
}

// DeriveSignals computes the five raw signals from research evidence.
func DeriveSignals(in SignalInputs) model.AmbiguitySignals {
	var s model.AmbiguitySignals

	s.NameURLMatch = nameURLMatch(in.LegalName, in.Host)
	s.CategoryCoverage = categoryCoverage(in.Category, in.GatheredText)
	s.CrossConsistency = crossConsistency(in.SourceNames)

	if in.HomonymWarnings == 0 {
		s.NoHomonymWarning = 1
	}

	if in.CoreFieldsTotal > 0 {
		s.CoreFieldsFilled = float64(in.CoreFieldsPresent) / float64(in.CoreFieldsTotal)
	}
	return s
}

// nameURLMatch measures how much of the legal name survives in the host.
func nameURLMatch(name, host string) float64 {
	name = strings.ToLower(strings.TrimSpace(name))
	host = strings.ToLower(host)
	if name == "" || host == "" {
		return 0
	}
	hostBase := host
	if i := strings.IndexByte(hostBase, '.'); i > 0 {
		hostBase = hostBase[:i]
	}
	compact := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, name)
	if compact == "" {
		return 0
	}
	if strings.Contains(hostBase, compact) || strings.Contains(compact, hostBase) {
		return 1
	}
	// Token overlap fallback.
	matched := 0
	tokens := strings.Fields(name)
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,&")
		if len(tok) >= 3 && strings.Contains(hostBase, tok) {
			matched++
		}
	}
	if len(tokens) == 0 {
		return 0
	}
	return float64(matched) / float64(len(tokens))
}

// categoryCoverage measures keyword presence of the category in the text.
func categoryCoverage(category, text string) float64 {
	if category == "" || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	keywords := strings.FieldsFunc(strings.ToLower(category), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	if len(keywords) == 0 {
		return 0
	}
	hit := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hit++
		}
	}
	return float64(hit) / float64(len(keywords))
}

// crossConsistency is 1 when the same legal name appears in at least two
// sources, scaled down for disagreement.
func crossConsistency(names []string) float64 {
	if len(names) < 2 {
		return 0
	}
	counts := make(map[string]int)
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key != "" {
			counts[key]++
		}
	}
	best := 0
	total := 0
	for _, c := range counts {
		total += c
		if c > best {
			best = c
		}
	}
	if total == 0 || best < 2 {
		return 0
	}
	return float64(best) / float64(total)
}
