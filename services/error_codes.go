package services

import (
	"log/slog"
	"regexp"
	"strings"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"
)

// Error code patterns. Guards around the numeric groups keep decimal runs
// like "10.03.15.22" and version strings from matching their inner pairs.
var errorCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[^.\d])(\d{2}\.\d{2}\.\d{2})(?:[^.\d]|$)`),
	regexp.MustCompile(`(?:^|[^.\d])(\d{2}\.\d{2})(?:[^.\d]|$)`),
	regexp.MustCompile(`(?i)\berror(?:\s+code)?\s+(\d{2}\.\d{2}(?:\.\d{2})?)`),
}

var errorCodeShapeRe = regexp.MustCompile(`^\d{2}\.\d{2}(\.\d{2})?$`)

// errorCodeVocabulary is the printer-service vocabulary whose presence near
// a code raises confidence that the match is a real fault code.
var errorCodeVocabulary = []string{
	"error", "fault", "jam", "fuser", "sensor", "motor", "cartridge",
	"tray", "roller", "lamp", "assembly", "toner", "firmware", "power",
	"replace", "clear",
}

// ErrorCodeExtractor mines NN.NN / NN.NN.NN fault codes with their
// description and remedy spans.
type ErrorCodeExtractor struct {
	*patternExtractor
	log *slog.Logger
}

func NewErrorCodeExtractor(cfg *config.Config, log *slog.Logger) *ErrorCodeExtractor {
	validate := func(value string) bool {
		return errorCodeShapeRe.MatchString(value)
	}
	return &ErrorCodeExtractor{
		patternExtractor: newPatternExtractor(cfg, errorCodePatterns, validate, errorCodeVocabulary),
		log:              log,
	}
}

// Extract scans every page and returns the accepted error codes plus the
// count of candidates rejected by confidence or description checks.
func (e *ErrorCodeExtractor) Extract(pages map[int]string) ([]models.Entity, int) {
	best := make(map[string]*models.ErrorCode)
	rejected := 0

	for page, text := range pages {
		for _, c := range e.findCandidates(page, text) {
			sig, desc, solution := e.signalsFor(c)
			if !sig.DescriptionOK {
				rejected++
				continue
			}

			confidence := e.weights.Score(sig)
			if confidence < e.minConfidence {
				rejected++
				continue
			}

			code := &models.ErrorCode{
				Code:        c.value,
				Description: desc,
				Solution:    solution,
				Severity:    deriveSeverity(e.context(c)),
				Confidence:  confidence,
				SourcePage:  c.page,
				Method:      "regex",
			}
			if prev, ok := best[c.value]; !ok || confidence > prev.Confidence {
				best[c.value] = code
			}
		}
	}

	entities := make([]models.Entity, 0, len(best))
	for _, code := range best {
		entities = append(entities, code)
	}
	e.log.Debug("error code extraction finished", "accepted", len(entities), "rejected", rejected)
	return entities, rejected
}

// deriveSeverity reads the tone of the surrounding text; fault codes default
// to plain errors.
func deriveSeverity(context string) string {
	lower := strings.ToLower(context)
	switch {
	case strings.Contains(lower, "critical") || strings.Contains(lower, "fatal"):
		return models.SeverityCritical
	case strings.Contains(lower, "warning") || strings.Contains(lower, "caution"):
		return models.SeverityWarning
	case strings.Contains(lower, "informational") || strings.Contains(lower, "notice"):
		return models.SeverityInfo
	default:
		return models.SeverityError
	}
}
