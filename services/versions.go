package services

import (
	"log/slog"
	"regexp"
	"strings"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"
)

// Version patterns require a keyword trigger so bare dotted numbers (error
// codes, section numbers) never qualify.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:firmware|software|driver|bios)\s+(?:version|revision|ver\.?|rev\.?)?\s*:?\s*v?(\d+(?:\.\d+){1,3}[a-z]?)\b`),
	regexp.MustCompile(`(?i)\b(?:version|ver\.|rev\.)\s*:?\s*v?(\d+(?:\.\d+){1,3}[a-z]?)\b`),
	regexp.MustCompile(`\bv(\d+\.\d+(?:\.\d+){0,2})\b`),
}

var versionShapeRe = regexp.MustCompile(`^\d{1,4}(\.\d{1,4}){1,3}[a-z]?$`)

var versionVocabulary = []string{
	"firmware", "software", "driver", "update", "upgrade", "release",
	"installed", "download", "flash", "bios",
}

// componentWords are components a version can be attributed to when one is
// named shortly before the match.
var componentWords = []string{
	"firmware", "software", "driver", "bios", "bootloader", "formatter",
	"engine", "scanner", "fax", "panel",
}

// VersionExtractor mines firmware and software version strings together
// with the component they apply to.
type VersionExtractor struct {
	*patternExtractor
	log *slog.Logger
}

func NewVersionExtractor(cfg *config.Config, log *slog.Logger) *VersionExtractor {
	validate := func(value string) bool {
		return versionShapeRe.MatchString(value)
	}
	return &VersionExtractor{
		patternExtractor: newPatternExtractor(cfg, versionPatterns, validate, versionVocabulary),
		log:              log,
	}
}

// Extract returns accepted versions and the rejected count. Values collapse
// to the highest-confidence instance.
func (e *VersionExtractor) Extract(pages map[int]string) ([]models.Entity, int) {
	best := make(map[string]*models.Version)
	rejected := 0

	for page, text := range pages {
		for _, c := range e.findCandidates(page, text) {
			sig, _, _ := e.signalsFor(c)
			context := e.context(c)

			if !sig.DescriptionOK {
				rejected++
				continue
			}
			confidence := e.weights.Score(sig)
			if confidence < e.minConfidence {
				rejected++
				continue
			}

			version := &models.Version{
				Value:      c.value,
				Component:  componentBefore(c),
				Context:    snippet(context, 200),
				Confidence: confidence,
				SourcePage: c.page,
				Method:     "regex",
			}
			if prev, ok := best[c.value]; !ok || confidence > prev.Confidence {
				best[c.value] = version
			}
		}
	}

	entities := make([]models.Entity, 0, len(best))
	for _, version := range best {
		entities = append(entities, version)
	}
	e.log.Debug("version extraction finished", "accepted", len(entities), "rejected", rejected)
	return entities, rejected
}

// componentBefore looks a short distance back from the match for a named
// component such as "firmware" or "driver".
func componentBefore(c candidate) string {
	lo := c.start - 60
	if lo < 0 {
		lo = 0
	}
	before := strings.ToLower(c.text[lo:c.start])

	found := ""
	foundAt := -1
	for _, word := range componentWords {
		if idx := strings.LastIndex(before, word); idx > foundAt {
			found, foundAt = word, idx
		}
	}
	return found
}

// snippet trims a context window to a storable length on a rune-safe
// boundary.
func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
