package services

import (
	"regexp"
	"strings"

	"manual-knowledge-pipeline/internal/config"
)

// ScoreWeights are the additive confidence signals shared by every entity
// extractor. The values are deliberately transparent constants rather than a
// learned model so individual signals stay tunable and testable.
type ScoreWeights struct {
	Base        float64
	Description float64
	Solution    float64
	Vocabulary  float64
	Recurrence  float64
	ContextBand float64
}

// DefaultScoreWeights returns the tuned production weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Base:        0.5,
		Description: 0.1,
		Solution:    0.2,
		Vocabulary:  0.1,
		Recurrence:  0.1,
		ContextBand: 0.05,
	}
}

// signals captures the per-candidate evidence the weights are applied to.
type signals struct {
	DescriptionOK  bool
	HasSolution    bool
	VocabularyHits int
	Occurrences    int
	ContextInBand  bool
}

// Score combines the evidence into a confidence clamped to [0,1].
func (w ScoreWeights) Score(sig signals) float64 {
	score := w.Base
	if sig.DescriptionOK {
		score += w.Description
	}
	if sig.HasSolution {
		score += w.Solution
	}
	if sig.VocabularyHits >= 2 {
		score += w.Vocabulary
	}
	if sig.Occurrences >= 2 {
		score += w.Recurrence
	}
	if sig.ContextInBand {
		score += w.ContextBand
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// genericDescriptions are placeholder phrases that disqualify a candidate's
// description outright.
var genericDescriptions = []string{
	"see documentation",
	"refer to the manual",
	"refer to documentation",
	"contact support",
	"contact your service representative",
	"error occurred",
	"an error has occurred",
	"see above",
	"see below",
	"not available",
	"n/a",
}

var (
	sentenceEndRe  = regexp.MustCompile(`\.[ \n]`)
	solutionWordRe = regexp.MustCompile(`(?i)\b(solution|remedy|corrective action|recommended action|to resolve|to fix)\b[:.]?`)
	numberedStepRe = regexp.MustCompile(`(?m)^[ \t]*\d{1,2}[.)][ \t]+|\b\d{1,2}\.[ \t]+[A-Z]`)
)

// patternExtractor is the shared machinery behind the entity extractors:
// regex candidates, a structural validator, context/description recovery and
// weighted confidence scoring. Concrete extractors supply the pattern set,
// validator and domain vocabulary.
type patternExtractor struct {
	patterns   []*regexp.Regexp
	validate   func(value string) bool
	vocabulary []string

	weights        ScoreWeights
	minConfidence  float64
	contextWindow  int
	minDescription int
}

func newPatternExtractor(cfg *config.Config, patterns []*regexp.Regexp, validate func(string) bool, vocabulary []string) *patternExtractor {
	return &patternExtractor{
		patterns:       patterns,
		validate:       validate,
		vocabulary:     vocabulary,
		weights:        DefaultScoreWeights(),
		minConfidence:  cfg.MinConfidence,
		contextWindow:  cfg.ContextWindow,
		minDescription: cfg.MinDescriptionLength,
	}
}

// candidate is one validated regex match with its page-local position.
type candidate struct {
	value string
	page  int
	start int
	end   int
	text  string // full page text the match came from
}

// findCandidates runs every pattern over the page text and keeps validated,
// position-deduplicated matches. A pattern's first capture group is the
// candidate value when present, otherwise the whole match.
func (x *patternExtractor) findCandidates(page int, text string) []candidate {
	var found []candidate
	seen := make(map[int]bool)

	for _, pattern := range x.patterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			if seen[start] {
				continue
			}
			value := text[start:end]
			if x.validate != nil && !x.validate(value) {
				continue
			}
			seen[start] = true
			found = append(found, candidate{value: value, page: page, start: start, end: end, text: text})
		}
	}
	return found
}

// context returns the symmetric window of page text around the match.
func (x *patternExtractor) context(c candidate) string {
	lo := c.start - x.contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := c.end + x.contextWindow
	if hi > len(c.text) {
		hi = len(c.text)
	}
	return c.text[lo:hi]
}

// description recovers the sentence immediately following the match,
// stripped of leading separators.
func (x *patternExtractor) description(c candidate) string {
	rest := c.text[c.end:]
	rest = strings.TrimLeft(rest, " \t:-")

	end := len(rest)
	if loc := sentenceEndRe.FindStringIndex(rest); loc != nil {
		end = loc[0]
	}
	if idx := strings.Index(rest, "\n\n"); idx >= 0 && idx < end {
		end = idx
	}
	if end > 250 {
		end = 250
	}
	return strings.TrimSpace(rest[:end])
}

// descriptionOK rejects descriptions that are too short or generic filler.
func (x *patternExtractor) descriptionOK(desc string) bool {
	if len(desc) < x.minDescription {
		return false
	}
	lower := strings.ToLower(desc)
	for _, generic := range genericDescriptions {
		if strings.Contains(lower, generic) {
			return false
		}
	}
	return true
}

// solutionSpan returns the remedy text following the match: either a
// keyword-introduced span or a run of at least two numbered steps.
func (x *patternExtractor) solutionSpan(c candidate) string {
	after := c.text[c.end:]
	if len(after) > x.contextWindow {
		after = after[:x.contextWindow]
	}

	if loc := solutionWordRe.FindStringIndex(after); loc != nil {
		span := after[loc[0]:]
		if idx := strings.Index(span, "\n\n"); idx >= 0 {
			span = span[:idx]
		}
		return strings.TrimSpace(span)
	}

	if steps := numberedStepRe.FindAllStringIndex(after, -1); len(steps) >= 2 {
		span := after[steps[0][0]:]
		if idx := strings.Index(span, "\n\n"); idx >= 0 {
			span = span[:idx]
		}
		return strings.TrimSpace(span)
	}
	return ""
}

// vocabularyHits counts how many distinct domain terms appear in the context.
func (x *patternExtractor) vocabularyHits(context string) int {
	lower := strings.ToLower(context)
	hits := 0
	for _, term := range x.vocabulary {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return hits
}

// signalsFor gathers all scoring evidence for one candidate.
func (x *patternExtractor) signalsFor(c candidate) (signals, string, string) {
	context := x.context(c)
	desc := x.description(c)
	solution := x.solutionSpan(c)

	sig := signals{
		DescriptionOK:  x.descriptionOK(desc),
		HasSolution:    solution != "",
		VocabularyHits: x.vocabularyHits(context),
		Occurrences:    strings.Count(c.text, c.value),
		ContextInBand:  len(context) >= 200 && len(context) <= 1000,
	}
	return sig, desc, solution
}
